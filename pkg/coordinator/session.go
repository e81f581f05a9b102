package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/aretw0/introspection"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/metrics"
	"github.com/aretw0/dealroom/pkg/negotiation"
)

// Session is one party's live view of one conversation.
type Session struct {
	coord  *Coordinator
	conv   domain.Conversation
	self   domain.Party
	cancel context.CancelFunc

	mu       sync.Mutex
	proposal domain.Proposal
	draft    *negotiation.Draft
	messages []domain.Message
	updates  chan Update
	closed   bool
	emitted  int

	done chan struct{}
}

func newSession(c *Coordinator, conv domain.Conversation, self domain.Party, p domain.Proposal, msgs []domain.Message, cancel context.CancelFunc) *Session {
	s := &Session{
		coord:    c,
		conv:     conv,
		self:     self,
		cancel:   cancel,
		proposal: p,
		draft:    negotiation.NewDraft(p),
		messages: msgs,
		updates:  make(chan Update, 1),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.publishLocked(s.snapshotLocked(), nil)
	s.mu.Unlock()
	return s
}

// Updates delivers the latest state. Pending updates are merged, so a slow
// reader always receives the newest snapshot with every change since its last
// read. The channel is closed when the session ends.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// View returns the current snapshot.
func (s *Session) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Party returns the bound party.
func (s *Session) Party() domain.Party { return s.self }

// Conversation returns the bound conversation.
func (s *Session) Conversation() domain.Conversation { return s.conv }

// Close stops the session and waits for its goroutines.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendMessage posts content to the conversation feed.
func (s *Session) SendMessage(ctx context.Context, content string) (domain.Message, error) {
	m, err := s.coord.feed.Post(ctx, s.conv, s.self, content)
	return m, s.report("message", err)
}

// CreateProposal starts a proposal. nil terms yields the starter set.
func (s *Session) CreateProposal(ctx context.Context, terms []domain.Term) error {
	p, err := s.coord.proposals.Create(ctx, s.conv, s.self, terms, s.version())
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpCreate, err)
}

// EditTerms stages terms locally. Nothing is written until SendProposal.
func (s *Session) EditTerms(terms []domain.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snapshotLocked()
	if err := s.draft.Stage(s.self, terms); err != nil {
		return err
	}
	next := s.snapshotLocked()
	if changes := Diff(prev, next); len(changes) > 0 {
		s.publishLocked(next, changes)
	}
	return nil
}

// SendProposal commits the staged terms, or the current ones when nothing
// is staged, and passes the turn. If staged edits were discarded by another
// party's commit it fails with a stale snapshot error once; the next send
// commits the current terms.
func (s *Session) SendProposal(ctx context.Context) error {
	s.mu.Lock()
	if s.draft.Superseded() {
		s.draft.Settle()
		s.mu.Unlock()
		metrics.InvalidTransition(negotiation.OpSend, domain.RuleStaleSnapshot)
		return s.report(negotiation.OpSend, domain.InvalidTransition(negotiation.OpSend, domain.RuleStaleSnapshot))
	}
	var terms []domain.Term
	if s.draft.Dirty() {
		terms = s.draft.Terms()
	}
	expected := s.draft.Base().Version
	s.mu.Unlock()

	p, err := s.coord.proposals.Send(ctx, s.conv, s.self, terms, expected)
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpSend, err)
}

// SendTerms commits terms as the party's offer on the proposal version the
// caller observed, bypassing the staged draft.
func (s *Session) SendTerms(ctx context.Context, terms []domain.Term, expected int64) error {
	p, err := s.coord.proposals.Send(ctx, s.conv, s.self, terms, expected)
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpSend, err)
}

// Accept accepts the counterpart's outstanding offer.
func (s *Session) Accept(ctx context.Context) error {
	p, err := s.coord.proposals.Accept(ctx, s.conv, s.self, s.version())
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpAccept, err)
}

// Reject rejects the counterpart's outstanding offer.
func (s *Session) Reject(ctx context.Context) error {
	p, err := s.coord.proposals.Reject(ctx, s.conv, s.self, s.version())
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpReject, err)
}

// Withdraw retracts the party's own outstanding offer.
func (s *Session) Withdraw(ctx context.Context) error {
	p, err := s.coord.proposals.Withdraw(ctx, s.conv, s.self, s.version())
	if err == nil {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpWithdraw, err)
}

// CancelEdit discards staged edits. An unfilled draft the party created and
// never sent is reverted to no proposal.
func (s *Session) CancelEdit(ctx context.Context) error {
	s.mu.Lock()
	prev := s.snapshotLocked()
	s.draft.Discard()
	next := s.snapshotLocked()
	if changes := Diff(prev, next); len(changes) > 0 {
		s.publishLocked(next, changes)
	}
	live := s.proposal.Status == domain.StatusPending
	expected := s.proposal.Version
	s.mu.Unlock()

	if !live {
		return nil
	}
	p, reverted, err := s.coord.proposals.CancelEdit(ctx, s.conv, s.self, expected)
	if err == nil && reverted {
		s.applyCommitted(p)
	}
	return s.report(negotiation.OpCancelEdit, err)
}

func (s *Session) version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proposal.Version
}

// report applies the stale-snapshot policy to an action's error.
func (s *Session) report(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.coord.ignoreStale && domain.IsRule(err, domain.RuleStaleSnapshot) {
		s.coord.logger.Debug("stale action ignored", "op", op, "conversation", s.conv.ID, "party", s.self.ID)
		return nil
	}
	return err
}

// follow applies subscription snapshots until both streams end.
func (s *Session) follow(ctx context.Context, proposals <-chan domain.Proposal, messages <-chan []domain.Message) error {
	for proposals != nil || messages != nil {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-proposals:
			if !ok {
				proposals = nil
				continue
			}
			s.applyProposal(p, false)
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			s.applyMessages(m)
		}
	}
	return nil
}

func (s *Session) finish(g *errgroup.Group) {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.coord.logger.Error("session stopped", "conversation", s.conv.ID, "party", s.self.ID, "error", err)
	}
	s.mu.Lock()
	s.closed = true
	close(s.updates)
	s.mu.Unlock()
	metrics.SessionClosed()
	s.coord.logger.Info("session closed", "conversation", s.conv.ID, "party", s.self.ID)
	close(s.done)
}

// applyCommitted applies the result of the party's own write. Its staged
// edits were either committed or are void, so they are dropped silently.
func (s *Session) applyCommitted(p domain.Proposal) {
	s.applyProposal(p, true)
}

func (s *Session) applyProposal(p domain.Proposal, own bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if own {
		s.draft.Settle()
	}
	if p.Version < s.proposal.Version {
		return
	}

	prev := s.snapshotLocked()
	s.proposal = p
	discarded := s.draft.Rebase(p)
	if own {
		s.draft.Settle()
	}
	next := s.snapshotLocked()

	changes := Diff(prev, next)
	if discarded && !own && p.LastUpdatedBy != s.self.ID {
		changes = append(changes, ChangeDraftDiscarded)
	}
	if len(changes) > 0 {
		s.publishLocked(next, changes)
	}
}

func (s *Session) applyMessages(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(msgs) < len(s.messages) {
		return
	}

	prev := s.snapshotLocked()
	s.messages = msgs
	next := s.snapshotLocked()
	if changes := Diff(prev, next); len(changes) > 0 {
		s.publishLocked(next, changes)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	var draft []domain.Term
	if s.draft.Dirty() {
		draft = s.draft.Terms()
	}
	p := s.proposal.Clone()
	return Snapshot{
		Conversation:    s.conv,
		Self:            s.self,
		Proposal:        p,
		ProposalVersion: s.proposal.Version,
		Draft:           draft,
		YourTurn:        negotiation.IsTurn(s.proposal, s.self.ID),
		Messages:        slices.Clone(s.messages),
	}
}

// publishLocked replaces any unread update with a merged one. It never blocks:
// mu serialises producers and the buffer holds a single update.
func (s *Session) publishLocked(snap Snapshot, changes []Change) {
	if s.closed {
		return
	}
	u := Update{Snapshot: snap, Changes: changes}
	select {
	case old := <-s.updates:
		u.Changes = mergeChanges(old.Changes, u.Changes)
	default:
	}
	select {
	case s.updates <- u:
		s.emitted++
	default:
	}
}

// SessionState is the introspection view of a session.
type SessionState struct {
	ConversationID  string `json:"conversation_id"`
	PartyID         string `json:"party_id"`
	Role            string `json:"role"`
	ProposalStatus  string `json:"proposal_status"`
	ProposalVersion int64  `json:"proposal_version"`
	Messages        int    `json:"messages"`
	DraftDirty      bool   `json:"draft_dirty"`
	UpdatesEmitted  int    `json:"updates_emitted"`
	Closed          bool   `json:"closed"`
}

// State implements introspection.Introspectable.
func (s *Session) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		ConversationID:  s.conv.ID,
		PartyID:         s.self.ID,
		Role:            string(s.self.Role),
		ProposalStatus:  string(s.proposal.Status),
		ProposalVersion: s.proposal.Version,
		Messages:        len(s.messages),
		DraftDirty:      s.draft.Dirty(),
		UpdatesEmitted:  s.emitted,
		Closed:          s.closed,
	}
}

// ComponentType implements introspection.Component.
func (s *Session) ComponentType() string {
	return "session"
}

var _ introspection.Introspectable = (*Session)(nil)
var _ introspection.Component = (*Session)(nil)
