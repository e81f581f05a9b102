package fs

import (
	"sort"

	"github.com/aretw0/introspection"
)

// RepositoryState exposes internal state for observability.
type RepositoryState struct {
	Path           string   `json:"path"`
	SystemDir      string   `json:"system_dir"`
	DefaultExt     string   `json:"default_ext"`
	CacheSize      int      `json:"cache_size"`
	Gitless        bool     `json:"gitless"`
	ReadOnly       bool     `json:"read_only"`
	Strict         bool     `json:"strict"`
	Serializers    []string `json:"serializers"`
	ActiveWatchers int      `json:"active_watchers"`
}

// State implements introspection.Introspectable.
func (r *Repository) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serializers := make([]string, 0, len(r.serializers))
	for ext := range r.serializers {
		serializers = append(serializers, ext)
	}
	sort.Strings(serializers)

	return RepositoryState{
		Path:           r.Path,
		SystemDir:      r.config.SystemDir,
		DefaultExt:     r.config.DefaultExt,
		CacheSize:      r.cache.Len(),
		Gitless:        r.config.Gitless,
		ReadOnly:       r.readOnly,
		Strict:         r.config.Strict,
		Serializers:    serializers,
		ActiveWatchers: r.watchers,
	}
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string {
	return "repository"
}

var _ introspection.Introspectable = (*Repository)(nil)
var _ introspection.Component = (*Repository)(nil)

func (r *Repository) setWatcherActive(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active {
		r.watchers++
	} else if r.watchers > 0 {
		r.watchers--
	}
}
