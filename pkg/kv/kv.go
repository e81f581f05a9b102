// Package kv provides the small key/value stores the match cache persists to.
//
// Four backends are available: an in-process map, a single JSON file, a
// SQLite table and a Redis server. Open picks one from a DSN.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a byte-oriented key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the store described by dsn:
//
//	memory
//	file:/var/lib/dealroom/matches.json
//	sqlite:/var/lib/dealroom/matches.db
//	redis://localhost:6379/0
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == "memory" || dsn == "memory:" {
		return NewMemory(), nil
	}
	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, fmt.Errorf("invalid kv dsn %q", dsn)
	}
	switch scheme {
	case "file":
		return OpenFile(rest)
	case "sqlite":
		return OpenSQLite(rest)
	case "redis", "rediss":
		return OpenRedis(dsn)
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", scheme)
	}
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	return nil
}
