// Package typed maps store documents onto Go structs.
package typed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/dealroom/pkg/core"
)

// DocumentModel is a typed view of a core.Document.
// Data carries the document metadata decoded into T.
type DocumentModel[T any] struct {
	ID        string
	Content   string
	Data      T
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exists reports whether the document has been persisted.
func (d *DocumentModel[T]) Exists() bool {
	return d != nil && d.Version > 0
}

// Service wraps a core.Service to provide type-safe access.
type Service[T any] struct {
	svc *core.Service
}

// NewService creates a new typed service wrapper.
func NewService[T any](svc *core.Service) *Service[T] {
	return &Service[T]{svc: svc}
}

// Core exposes the untyped service.
func (s *Service[T]) Core() *core.Service {
	return s.svc
}

// Save replaces the document unconditionally.
func (s *Service[T]) Save(ctx context.Context, id, content string, data T) (*DocumentModel[T], error) {
	metadata, err := toMetadata(data)
	if err != nil {
		return nil, err
	}
	doc, err := s.svc.SaveDocument(ctx, id, content, metadata)
	if err != nil {
		return nil, err
	}
	return FromCore[T](doc)
}

// SaveIf replaces the document only if its stored version equals expected.
func (s *Service[T]) SaveIf(ctx context.Context, id, content string, data T, expected int64) (*DocumentModel[T], error) {
	metadata, err := toMetadata(data)
	if err != nil {
		return nil, err
	}
	doc, err := s.svc.SaveDocumentIf(ctx, id, content, metadata, expected)
	if err != nil {
		return nil, err
	}
	return FromCore[T](doc)
}

// Get retrieves a document.
func (s *Service[T]) Get(ctx context.Context, id string) (*DocumentModel[T], error) {
	doc, err := s.svc.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromCore[T](doc)
}

// List returns every document under prefix, ordered by creation time.
func (s *Service[T]) List(ctx context.Context, prefix string) ([]*DocumentModel[T], error) {
	docs, err := s.svc.ListDocuments(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return fromCoreList[T](docs)
}

// Delete removes a document.
func (s *Service[T]) Delete(ctx context.Context, id string) error {
	return s.svc.DeleteDocument(ctx, id)
}

// Subscribe streams typed snapshots of a single document.
// A missing document arrives as a model with Version zero.
// Snapshots that fail to decode are dropped.
func (s *Service[T]) Subscribe(ctx context.Context, id string) (<-chan *DocumentModel[T], error) {
	in, err := s.svc.SubscribeDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert(ctx, in, FromCore[T]), nil
}

// SubscribeList streams the typed collection under prefix on every change.
func (s *Service[T]) SubscribeList(ctx context.Context, prefix string) (<-chan []*DocumentModel[T], error) {
	in, err := s.svc.SubscribeCollection(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return convert(ctx, in, fromCoreList[T]), nil
}

func convert[In, Out any](ctx context.Context, in <-chan In, fn func(In) (Out, error)) <-chan Out {
	out := make(chan Out, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for v := range in {
			res, err := fn(v)
			if err != nil {
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	return out
}

// FromCore decodes a core.Document into a typed model.
func FromCore[T any](doc core.Document) (*DocumentModel[T], error) {
	var data T
	if len(doc.Metadata) > 0 {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("metadata marshal failed: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.ID, err)
		}
	}
	return &DocumentModel[T]{
		ID:        doc.ID,
		Content:   doc.Content,
		Data:      data,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func fromCoreList[T any](docs []core.Document) ([]*DocumentModel[T], error) {
	out := make([]*DocumentModel[T], 0, len(docs))
	for _, d := range docs {
		m, err := FromCore[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func toMetadata(data any) (core.Metadata, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var metadata core.Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to convert typed data to map: %w", err)
	}
	return metadata, nil
}
