package matchmaking

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/dealroom/pkg/directory"
	"github.com/aretw0/dealroom/pkg/domain"
)

// Finder serves match searches cache-first.
type Finder struct {
	cache     *Cache
	directory directory.Directory
	scorer    Scorer
	logger    *slog.Logger
}

// NewFinder wires a cache, a profile directory and a scorer.
func NewFinder(cache *Cache, dir directory.Directory, scorer Scorer, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Finder{cache: cache, directory: dir, scorer: scorer, logger: logger}
}

// FindMatches returns the matches of self searching as role. A valid cache entry is returned as is;
// otherwise every counterpart profile is scored in one request and the
// response is cached verbatim. With no counterparts it returns
// domain.ErrEmptyCandidateSet without calling the service.
func (f *Finder) FindMatches(ctx context.Context, self domain.Profile, role domain.Role) (Entry, error) {
	if !role.Valid() {
		return Entry{}, fmt.Errorf("invalid role %q", role)
	}

	if e, ok, err := f.cache.Get(ctx, role, self.ID); err != nil {
		return Entry{}, err
	} else if ok {
		f.logger.Debug("match cache hit", "party", self.ID, "role", role)
		return e, nil
	}

	counterparts, err := f.directory.ListByRole(ctx, role.Counterpart())
	if err != nil {
		return Entry{}, fmt.Errorf("list counterparts: %w", err)
	}
	if len(counterparts) == 0 {
		return Entry{}, domain.ErrEmptyCandidateSet
	}

	matches, err := f.scorer.Score(ctx, role, BuildRequest(self, counterparts))
	if err != nil {
		return Entry{}, err
	}

	e, err := f.cache.Put(ctx, role, self.ID, matches)
	if err != nil {
		return Entry{}, err
	}
	f.logger.Info("matches refreshed", "party", self.ID, "role", role, "matches", len(matches), "candidates", len(counterparts))
	return e, nil
}

// ClearCache forces the next FindMatches for self and role to recompute.
func (f *Finder) ClearCache(ctx context.Context, self domain.Profile, role domain.Role) error {
	return f.cache.Clear(ctx, role, self.ID)
}
