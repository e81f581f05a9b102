// Package coordinator binds a signed-in party to one conversation.
//
// A Session follows the conversation's proposal and message feed, keeps the
// party's unsent draft, diffs every committed snapshot against the previous
// one and emits coalesced updates for the view. Party actions are routed to
// the negotiation service and the feed, always conditioned on the snapshot
// the party last saw.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/feed"
	"github.com/aretw0/dealroom/pkg/metrics"
	"github.com/aretw0/dealroom/pkg/negotiation"
)

const opBind = "bind"

// Coordinator creates sessions.
type Coordinator struct {
	conversations *Conversations
	proposals     *negotiation.Service
	feed          *feed.Feed
	logger        *slog.Logger
	ignoreStale   bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// IgnoreStale makes session actions swallow stale-snapshot refusals. The
// newer snapshot is on its way through the subscription anyway.
func IgnoreStale() Option {
	return func(c *Coordinator) { c.ignoreStale = true }
}

// New creates a coordinator.
func New(conversations *Conversations, proposals *negotiation.Service, f *feed.Feed, opts ...Option) *Coordinator {
	c := &Coordinator{
		conversations: conversations,
		proposals:     proposals,
		feed:          f,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversations returns the conversation store.
func (c *Coordinator) Conversations() *Conversations {
	return c.conversations
}

// Bind opens a session for party on conversation convID. The session ends
// when ctx is done or Close is called.
func (c *Coordinator) Bind(ctx context.Context, party domain.Party, convID string) (*Session, error) {
	conv, err := c.conversations.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if p, ok := conv.Participant(party.ID); !ok || p.Role != party.Role {
		return nil, domain.InvalidTransition(opBind, domain.RuleNotParticipant)
	}
	self, _ := conv.Participant(party.ID)

	sctx, cancel := context.WithCancel(ctx)
	proposals, err := c.proposals.Subscribe(sctx, conv.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe proposal: %w", err)
	}
	messages, err := c.feed.Subscribe(sctx, conv.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}

	initial, err := c.proposals.Get(ctx, conv.ID)
	if err != nil {
		cancel()
		return nil, err
	}
	msgs, err := c.feed.Messages(ctx, conv.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	s := newSession(c, conv, self, initial, msgs, cancel)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return s.follow(gctx, proposals, messages) })
	go s.finish(g)

	metrics.SessionOpened()
	c.logger.Info("session bound", "conversation", conv.ID, "party", self.ID, "role", self.Role)
	return s, nil
}
