package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/lifecycle"
)

const defaultEventBuffer = 100

// Service handles the business logic for documents.
type Service struct {
	repo            Repository
	logger          *slog.Logger
	eventBufferSize int

	mu            sync.RWMutex
	subscriptions int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used by subscriptions.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBufferSize sets the size of the broker buffer between the adapter and watchers.
func WithEventBufferSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.eventBufferSize = size
		}
	}
}

// NewService creates a new Service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:            repo,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		eventBufferSize: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository exposes the underlying adapter.
func (s *Service) Repository() Repository {
	return s.repo
}

// SaveDocument replaces a document unconditionally.
func (s *Service) SaveDocument(ctx context.Context, id, content string, metadata Metadata) (Document, error) {
	if err := validateID(id); err != nil {
		return Document{}, err
	}
	return s.repo.Save(ctx, Document{ID: id, Content: content, Metadata: metadata})
}

// SaveDocumentIf replaces a document only if its stored version equals expected.
func (s *Service) SaveDocumentIf(ctx context.Context, id, content string, metadata Metadata, expected int64) (Document, error) {
	if err := validateID(id); err != nil {
		return Document{}, err
	}
	c, ok := s.repo.(Conditional)
	if !ok {
		return Document{}, fmt.Errorf("conditional save: %w", ErrUnsupported)
	}
	return c.SaveIf(ctx, Document{ID: id, Content: content, Metadata: metadata}, expected)
}

// MergeDocument merges metadata keys onto the stored document.
// Empty content keeps the stored content. Missing documents are created.
func (s *Service) MergeDocument(ctx context.Context, id, content string, metadata Metadata) (Document, error) {
	if err := validateID(id); err != nil {
		return Document{}, err
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Document{}, err
		}

		merged := make(Metadata, len(current.Metadata)+len(metadata))
		maps.Copy(merged, current.Metadata)
		maps.Copy(merged, metadata)
		if content == "" {
			content = current.Content
		}
		doc := Document{ID: id, Content: content, Metadata: merged}

		c, ok := s.repo.(Conditional)
		if !ok {
			return s.repo.Save(ctx, doc)
		}
		saved, err := c.SaveIf(ctx, doc, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return saved, err
	}
	return Document{}, fmt.Errorf("merge %s: %w", id, ErrVersionConflict)
}

// GetDocument retrieves a document.
func (s *Service) GetDocument(ctx context.Context, id string) (Document, error) {
	if err := validateID(id); err != nil {
		return Document{}, err
	}
	return s.repo.Get(ctx, id)
}

// ListDocuments retrieves all documents under prefix, ordered by creation time then ID.
func (s *Service) ListDocuments(ctx context.Context, prefix string) ([]Document, error) {
	docs, err := s.repo.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs)
	return docs, nil
}

// DeleteDocument removes a document.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Watch observes changes in the repository if supported.
// Events are buffered so that a slow consumer never blocks the adapter.
func (s *Service) Watch(ctx context.Context, pattern string) (<-chan Event, error) {
	w, ok := s.repo.(Watchable)
	if !ok {
		return nil, errors.New("repository does not support watching")
	}
	upstream, err := w.Watch(ctx, pattern)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, s.eventBufferSize)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-upstream:
				if !ok {
					return nil
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}, lifecycle.WithErrorHandler(s.logError("watch broker")))
	return out, nil
}

// SubscribeDocument streams full snapshots of a single document.
// The current snapshot is sent first; a missing document is sent as a
// Document with only its ID set. A consumer that falls behind only ever
// receives the latest snapshot.
func (s *Service) SubscribeDocument(ctx context.Context, id string) (<-chan Document, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	events, err := s.Watch(ctx, id)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) (Document, error) {
		doc, err := s.repo.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return Document{ID: id}, nil
		}
		return doc, err
	}
	out := make(chan Document, 1)
	s.startPump(ctx, "document "+id, func(ctx context.Context) error {
		return pumpLatest(ctx, events, load, out, s.logger)
	})
	return out, nil
}

// SubscribeCollection streams the full, ordered set of documents under prefix
// every time any of them changes.
func (s *Service) SubscribeCollection(ctx context.Context, prefix string) (<-chan []Document, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	events, err := s.Watch(ctx, prefix+"**")
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]Document, error) {
		return s.ListDocuments(ctx, prefix)
	}
	out := make(chan []Document, 1)
	s.startPump(ctx, "collection "+prefix, func(ctx context.Context) error {
		return pumpLatest(ctx, events, load, out, s.logger)
	})
	return out, nil
}

func (s *Service) startPump(ctx context.Context, name string, fn func(context.Context) error) {
	s.mu.Lock()
	s.subscriptions++
	s.mu.Unlock()

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			s.subscriptions--
			s.mu.Unlock()
		}()
		return fn(ctx)
	}, lifecycle.WithErrorHandler(s.logError("subscription "+name)))
}

func (s *Service) logError(component string) func(error) {
	return func(err error) {
		s.logger.Error("goroutine failed", "component", component, "error", err)
	}
}

// pumpLatest reloads a snapshot after every event and hands it to out,
// replacing any snapshot the consumer has not picked up yet.
func pumpLatest[T any](ctx context.Context, events <-chan Event, load func(context.Context) (T, error), out chan<- T, logger *slog.Logger) error {
	defer close(out)

	var pending T
	hasPending := false
	reload := func() {
		v, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("snapshot reload failed", "error", err)
			}
			return
		}
		pending, hasPending = v, true
	}

	reload()
	for {
		var send chan<- T
		if hasPending {
			send = out
		}
		if events == nil && !hasPending {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Collapse bursts into a single reload.
			for drained := false; !drained; {
				select {
				case _, ok := <-events:
					if !ok {
						events = nil
						drained = true
					}
				default:
					drained = true
				}
			}
			reload()
		case send <- pending:
			var zero T
			pending, hasPending = zero, false
		}
	}
}

func sortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

func validateID(id string) error {
	if id == "" {
		return errors.New("document ID cannot be empty")
	}
	if strings.ContainsAny(id, "*?[]{}\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid document ID %q", id)
	}
	return nil
}
