package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/kv"
	"github.com/aretw0/dealroom/pkg/metrics"
)

// DefaultTTL is how long a cache entry stays valid.
const DefaultTTL = 24 * time.Hour

// Entry is the persisted result of one search.
type Entry struct {
	OwnerPartyID string         `json:"ownerPartyId"`
	Matches      []domain.Match `json:"matches"`
	// FetchedAt is epoch milliseconds.
	FetchedAt int64 `json:"fetchedAt"`
}

// Fetched returns FetchedAt as a time.
func (e Entry) Fetched() time.Time {
	return time.UnixMilli(e.FetchedAt)
}

// CacheKey returns the key for a search by a party of role.
func CacheKey(role domain.Role, ownerPartyID string) string {
	return "matches/" + string(role) + "/" + ownerPartyID
}

// Cache stores search results with a time-to-live.
type Cache struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewCache wraps store. A non-positive ttl selects DefaultTTL and a nil now
// selects time.Now.
func NewCache(store kv.Store, ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, ttl: ttl, now: now}
}

// Get returns the entry if present and younger than the TTL.
// Undecodable entries are treated as absent.
func (c *Cache) Get(ctx context.Context, role domain.Role, owner string) (Entry, bool, error) {
	raw, err := c.store.Get(ctx, CacheKey(role, owner))
	if errors.Is(err, kv.ErrNotFound) {
		metrics.MatchCacheLookup(string(role), "miss")
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read match cache: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		metrics.MatchCacheLookup(string(role), "miss")
		return Entry{}, false, nil
	}
	if c.now().Sub(e.Fetched()) >= c.ttl {
		metrics.MatchCacheLookup(string(role), "expired")
		return Entry{}, false, nil
	}
	metrics.MatchCacheLookup(string(role), "hit")
	return e, true, nil
}

// Put stores matches for owner with fetchedAt = now.
func (c *Cache) Put(ctx context.Context, role domain.Role, owner string, matches []domain.Match) (Entry, error) {
	e := Entry{OwnerPartyID: owner, Matches: matches, FetchedAt: c.now().UnixMilli()}
	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode match cache entry: %w", err)
	}
	if err := c.store.Set(ctx, CacheKey(role, owner), raw); err != nil {
		return Entry{}, fmt.Errorf("write match cache: %w", err)
	}
	return e, nil
}

// Clear evicts the entry for owner.
func (c *Cache) Clear(ctx context.Context, role domain.Role, owner string) error {
	if err := c.store.Delete(ctx, CacheKey(role, owner)); err != nil {
		return fmt.Errorf("clear match cache: %w", err)
	}
	return nil
}
