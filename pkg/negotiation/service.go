package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/lifecycle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/metrics"
	"github.com/aretw0/dealroom/pkg/typed"
)

const tracerName = "github.com/aretw0/dealroom/pkg/negotiation"

// ProposalID returns the document ID of a conversation's proposal.
func ProposalID(conversationID string) string {
	return "conversations/" + conversationID + "/proposal"
}

// Service persists proposal transitions in the document store.
//
// Every mutating call carries the version of the snapshot the actor acted on.
// The write is a compare-and-swap against that version, so two parties racing
// on the same snapshot can never both succeed.
type Service struct {
	docs   *typed.Service[domain.Proposal]
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a negotiation service on top of a document store.
func NewService(store *core.Service, opts ...Option) *Service {
	s := &Service{
		docs:   typed.NewService[domain.Proposal](store),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current proposal of a conversation, or the no_proposal
// snapshot when none is stored.
func (s *Service) Get(ctx context.Context, conversationID string) (domain.Proposal, error) {
	m, err := s.docs.Get(ctx, ProposalID(conversationID))
	if errors.Is(err, core.ErrNotFound) {
		return domain.NoProposal(), nil
	}
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("load proposal %s: %w", conversationID, err)
	}
	return fromModel(m), nil
}

// Subscribe streams the latest proposal snapshot of a conversation.
func (s *Service) Subscribe(ctx context.Context, conversationID string) (<-chan domain.Proposal, error) {
	in, err := s.docs.Subscribe(ctx, ProposalID(conversationID))
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Proposal, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for m := range in {
			select {
			case out <- fromModel(m):
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	return out, nil
}

// Create starts a proposal. terms may be nil for the starter set.
func (s *Service) Create(ctx context.Context, conv domain.Conversation, actor domain.Party, terms []domain.Term, expected int64) (domain.Proposal, error) {
	return s.apply(ctx, OpCreate, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		return Create(p, actor, terms, s.now())
	})
}

// Send commits terms and passes the turn.
func (s *Service) Send(ctx context.Context, conv domain.Conversation, actor domain.Party, terms []domain.Term, expected int64) (domain.Proposal, error) {
	return s.apply(ctx, OpSend, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		return Send(p, actor, terms, s.now())
	})
}

// Accept accepts the outstanding offer.
func (s *Service) Accept(ctx context.Context, conv domain.Conversation, actor domain.Party, expected int64) (domain.Proposal, error) {
	return s.apply(ctx, OpAccept, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		return Accept(p, actor, s.now())
	})
}

// Reject rejects the outstanding offer.
func (s *Service) Reject(ctx context.Context, conv domain.Conversation, actor domain.Party, expected int64) (domain.Proposal, error) {
	return s.apply(ctx, OpReject, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		return Reject(p, actor, s.now())
	})
}

// Withdraw retracts the actor's own outstanding offer.
func (s *Service) Withdraw(ctx context.Context, conv domain.Conversation, actor domain.Party, expected int64) (domain.Proposal, error) {
	return s.apply(ctx, OpWithdraw, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		return Withdraw(p, actor, s.now())
	})
}

// CancelEdit reverts an unfilled, unsent draft to no_proposal. For any other
// proposal nothing is written and the current snapshot is returned with
// reverted == false; discarding staged terms is the caller's business.
func (s *Service) CancelEdit(ctx context.Context, conv domain.Conversation, actor domain.Party, expected int64) (p domain.Proposal, reverted bool, err error) {
	p, err = s.apply(ctx, OpCancelEdit, conv, actor, expected, func(p domain.Proposal) (domain.Proposal, error) {
		revert, err := CancelEdit(p, actor)
		if err != nil {
			return p, err
		}
		if !revert {
			return p, errNoWrite
		}
		reverted = true
		return Revert(p), nil
	})
	if errors.Is(err, errNoWrite) {
		return p, false, nil
	}
	return p, reverted, err
}

// errNoWrite short-circuits apply when an operation needs no store write.
var errNoWrite = errors.New("no write")

func (s *Service) apply(ctx context.Context, op string, conv domain.Conversation, actor domain.Party, expected int64, transition func(domain.Proposal) (domain.Proposal, error)) (domain.Proposal, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation."+op, trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.String("party.id", actor.ID),
		attribute.Int64("proposal.expected_version", expected),
	))
	defer span.End()

	fail := func(err error) (domain.Proposal, error) {
		var ite *domain.InvalidTransitionError
		if errors.As(err, &ite) {
			metrics.InvalidTransition(op, ite.Rule)
			s.logger.Debug("transition refused", "op", op, "conversation", conv.ID, "party", actor.ID, "rule", ite.Rule)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return domain.Proposal{}, err
	}

	if p, ok := conv.Participant(actor.ID); !ok || p.Role != actor.Role {
		return fail(domain.InvalidTransition(op, domain.RuleNotParticipant))
	}

	current, err := s.Get(ctx, conv.ID)
	if err != nil {
		return fail(err)
	}
	if current.Version != expected {
		return fail(domain.InvalidTransition(op, domain.RuleStaleSnapshot))
	}

	next, err := transition(current)
	if errors.Is(err, errNoWrite) {
		return current, err
	}
	if err != nil {
		return fail(err)
	}

	id := ProposalID(conv.ID)
	reason := core.FormatChangeReason("proposal", conv.ID, changeLabel(next)+" by "+actor.ID, "")
	saved, err := s.docs.SaveIf(core.WithChangeReason(ctx, reason), id, "", next, expected)
	if errors.Is(err, core.ErrVersionConflict) {
		return fail(domain.InvalidTransition(op, domain.RuleStaleSnapshot))
	}
	if err != nil {
		return fail(&domain.StoreWriteError{ID: id, Err: err})
	}

	result := fromModel(saved)
	metrics.ProposalTransition(op)
	span.SetAttributes(attribute.Int64("proposal.version", result.Version), attribute.String("proposal.status", string(result.Status)))
	s.logger.Info("proposal updated", "op", op, "conversation", conv.ID, "party", actor.ID, "status", result.Status, "version", result.Version)
	return result, nil
}

func changeLabel(p domain.Proposal) string {
	if len(p.History) == 0 {
		return "Proposal Discarded"
	}
	return p.History[len(p.History)-1].Event
}

func fromModel(m *typed.DocumentModel[domain.Proposal]) domain.Proposal {
	if !m.Exists() || m.Data.Status == "" {
		np := domain.NoProposal()
		np.Version = m.Version
		return np
	}
	p := m.Data
	p.Version = m.Version
	return p
}
