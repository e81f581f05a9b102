// Package memory provides an in-process document store.
// It honours the same contract as the filesystem adapter (versions,
// compare-and-swap, monotonic timestamps, watch) and is used by tests and by
// ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/dealroom/pkg/core"
)

// Repository implements core.Repository, core.Conditional and core.Watchable in memory.
type Repository struct {
	mu       sync.Mutex
	docs     map[string]core.Document
	watchers map[*watcher]struct{}
	now      func() time.Time
	last     time.Time
	readOnly bool
}

// Option configures the in-memory repository.
type Option func(*Repository)

// WithClock overrides the time source used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// WithReadOnly rejects every write with core.ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return func(r *Repository) {
		r.readOnly = enabled
	}
}

// NewRepository creates an empty in-memory repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		docs:     make(map[string]core.Document),
		watchers: make(map[*watcher]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize is a no-op.
func (r *Repository) Initialize(ctx context.Context) error { return nil }

// Save replaces a document unconditionally.
func (r *Repository) Save(ctx context.Context, doc core.Document) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(doc)
}

// SaveIf replaces a document only if its stored version equals expected.
func (r *Repository) SaveIf(ctx context.Context, doc core.Document, expected int64) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.docs[doc.ID].Version; current != expected {
		return core.Document{}, fmt.Errorf("%s: stored version %d, expected %d: %w", doc.ID, current, expected, core.ErrVersionConflict)
	}
	return r.saveLocked(doc)
}

func (r *Repository) saveLocked(doc core.Document) (core.Document, error) {
	if r.readOnly {
		return core.Document{}, core.ErrReadOnly
	}
	if doc.ID == "" {
		return core.Document{}, fmt.Errorf("document has no ID")
	}

	existing, found := r.docs[doc.ID]
	stamp := r.stampLocked()

	stored := core.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  cloneMetadata(doc.Metadata),
		Version:   existing.Version + 1,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if found {
		stored.CreatedAt = existing.CreatedAt
	}
	r.docs[doc.ID] = stored

	eType := core.EventCreate
	if found {
		eType = core.EventModify
	}
	r.notifyLocked(core.Event{Type: eType, ID: doc.ID, Version: stored.Version, Timestamp: stamp.UnixNano()})

	return copyDocument(stored), nil
}

// Get retrieves a document by ID.
func (r *Repository) Get(ctx context.Context, id string) (core.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return core.Document{}, fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return copyDocument(doc), nil
}

// List returns every document whose ID starts with prefix.
func (r *Repository) List(ctx context.Context, prefix string) ([]core.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]core.Document, 0)
	for id, doc := range r.docs {
		if strings.HasPrefix(id, prefix) {
			docs = append(docs, copyDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Delete removes a document.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readOnly {
		return core.ErrReadOnly
	}
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	delete(r.docs, id)
	r.notifyLocked(core.Event{Type: core.EventDelete, ID: id, Version: doc.Version, Timestamp: r.stampLocked().UnixNano()})
	return nil
}

// Watch emits events for document IDs matching the doublestar pattern.
func (r *Repository) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}

	w := newWatcher(pattern)
	r.mu.Lock()
	r.watchers[w] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, w)
		r.mu.Unlock()
	}()
	go w.run(ctx)

	return w.out, nil
}

// stampLocked returns a timestamp strictly greater than any previous one.
func (r *Repository) stampLocked() time.Time {
	t := r.now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Nanosecond)
	}
	r.last = t
	return t
}

func (r *Repository) notifyLocked(e core.Event) {
	for w := range r.watchers {
		if match, _ := doublestar.Match(w.pattern, e.ID); match {
			w.enqueue(e)
		}
	}
}

// watcher keeps an unbounded queue so that writers never block on readers.
type watcher struct {
	pattern string
	out     chan core.Event
	signal  chan struct{}

	mu    sync.Mutex
	queue []core.Event
}

func newWatcher(pattern string) *watcher {
	return &watcher{
		pattern: pattern,
		out:     make(chan core.Event),
		signal:  make(chan struct{}, 1),
	}
}

func (w *watcher) enqueue(e core.Event) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, e := range batch {
			select {
			case w.out <- e:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		}
	}
}

func copyDocument(doc core.Document) core.Document {
	doc.Metadata = cloneMetadata(doc.Metadata)
	return doc
}

func cloneMetadata(m core.Metadata) core.Metadata {
	if m == nil {
		return nil
	}
	out := make(core.Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(cloneMetadata(val))
	case core.Metadata:
		return cloneMetadata(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
