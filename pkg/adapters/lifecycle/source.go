// Package lifecycle exposes store change events as a lifecycle.Source.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/dealroom/pkg/core"
)

type storeSource struct {
	watch func(ctx context.Context) (<-chan core.Event, error)
	out   chan lifecycle.Event
}

// NewSource bridges an existing event channel to a lifecycle.Source.
func NewSource(events <-chan core.Event) lifecycle.Source {
	return &storeSource{
		watch: func(context.Context) (<-chan core.Event, error) { return events, nil },
		out:   make(chan lifecycle.Event),
	}
}

// NewWatchSource watches svc for document IDs matching pattern once started,
// e.g. "conversations/*/messages/*".
func NewWatchSource(svc *core.Service, pattern string) lifecycle.Source {
	return &storeSource{
		watch: func(ctx context.Context) (<-chan core.Event, error) { return svc.Watch(ctx, pattern) },
		out:   make(chan lifecycle.Event),
	}
}

func (s *storeSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *storeSource) Start(ctx context.Context) error {
	events, err := s.watch(ctx)
	if err != nil {
		close(s.out)
		return fmt.Errorf("watch store: %w", err)
	}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// core.Event satisfies lifecycle.Event through String.
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
