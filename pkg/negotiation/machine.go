// Package negotiation implements the proposal lifecycle.
//
// The transition functions in this file are pure: they validate an operation
// against a snapshot and return the next snapshot, never performing I/O.
// Service wires them to the document store.
package negotiation

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/dealroom/pkg/domain"
)

// Operation names used in errors, metrics and change reasons.
const (
	OpCreate     = "create"
	OpEdit       = "edit"
	OpSend       = "send"
	OpAccept     = "accept"
	OpReject     = "reject"
	OpWithdraw   = "withdraw"
	OpCancelEdit = "cancel"
)

// newID generates term and history event ids.
var newID = uuid.NewString

// StarterTerms is the term set of a freshly created proposal.
func StarterTerms() []domain.Term {
	return []domain.Term{
		{Key: "Investment Amount"},
		{Key: "Equity Stake (%)"},
		{Key: "Valuation Cap"},
	}
}

// IsTurn reports whether partyID may resolve the outstanding offer.
func IsTurn(p domain.Proposal, partyID string) bool {
	return p.Status == domain.StatusPending && p.LastUpdatedBy != partyID
}

// Create starts a proposal. Only an investor may create one, and only when
// none exists. A nil terms slice yields the starter terms.
func Create(p domain.Proposal, actor domain.Party, terms []domain.Term, at time.Time) (domain.Proposal, error) {
	if p.Live() {
		return p, domain.InvalidTransition(OpCreate, domain.RuleProposalExists)
	}
	if actor.Role != domain.RoleInvestor {
		return p, domain.InvalidTransition(OpCreate, domain.RuleRoleNotPermitted)
	}
	if terms == nil {
		terms = StarterTerms()
	}
	normalized, err := normalize(OpCreate, terms)
	if err != nil {
		return p, err
	}
	for i := range normalized {
		normalized[i].LastEditedBy = actor.ID
	}

	return domain.Proposal{
		Status:        domain.StatusPending,
		Terms:         normalized,
		History:       []domain.HistoryEvent{event(domain.EventCreated, actor.ID, at)},
		LastUpdatedBy: actor.ID,
		Version:       p.Version,
	}, nil
}

// Edit stages a new term set against p. It returns the stamped terms and
// never changes status or history.
func Edit(p domain.Proposal, actor domain.Party, terms []domain.Term) ([]domain.Term, error) {
	if err := requirePending(OpEdit, p); err != nil {
		return nil, err
	}
	normalized, err := normalize(OpEdit, terms)
	if err != nil {
		return nil, err
	}
	return stamp(p.Terms, normalized, actor.ID), nil
}

// Send commits terms and passes the turn to the other party.
// A nil terms slice commits the current terms unchanged.
func Send(p domain.Proposal, actor domain.Party, terms []domain.Term, at time.Time) (domain.Proposal, error) {
	if terms == nil {
		terms = p.Terms
	}
	staged, err := Edit(p, actor, terms)
	if err != nil {
		return p, opError(err, OpSend)
	}

	label := domain.EventInitialSent
	if hasSend(p.History) {
		label = domain.EventCounterSent
	}

	next := p.Clone()
	next.Terms = staged
	next.History = append(next.History, event(label, actor.ID, at))
	next.LastUpdatedBy = actor.ID
	return next, nil
}

// Accept resolves the outstanding offer in its favour. The party that made
// the offer can never accept it.
func Accept(p domain.Proposal, actor domain.Party, at time.Time) (domain.Proposal, error) {
	return resolve(OpAccept, p, actor, domain.StatusAccepted, domain.EventAccepted, at)
}

// Reject declines the outstanding offer.
func Reject(p domain.Proposal, actor domain.Party, at time.Time) (domain.Proposal, error) {
	return resolve(OpReject, p, actor, domain.StatusRejected, domain.EventRejected, at)
}

// Withdraw retracts the outstanding offer. Only the party that made it may.
func Withdraw(p domain.Proposal, actor domain.Party, at time.Time) (domain.Proposal, error) {
	if err := requirePending(OpWithdraw, p); err != nil {
		return p, err
	}
	if p.LastUpdatedBy != actor.ID {
		return p, domain.InvalidTransition(OpWithdraw, domain.RuleNotYourOffer)
	}
	return terminate(p, actor, domain.StatusWithdrawn, domain.EventWithdrawn, at), nil
}

// CancelEdit reports whether cancelling the actor's edits also reverts the
// whole proposal to no_proposal. That happens only for a draft its creator
// never filled in nor sent.
func CancelEdit(p domain.Proposal, actor domain.Party) (revert bool, err error) {
	if err := requirePending(OpCancelEdit, p); err != nil {
		return false, err
	}
	if p.LastUpdatedBy != actor.ID || len(p.History) != 1 {
		return false, nil
	}
	for _, t := range p.Terms {
		if strings.TrimSpace(t.Value) != "" {
			return false, nil
		}
	}
	return true, nil
}

// Revert returns the no_proposal snapshot that replaces p.
func Revert(p domain.Proposal) domain.Proposal {
	np := domain.NoProposal()
	np.Version = p.Version
	return np
}

func resolve(op string, p domain.Proposal, actor domain.Party, status domain.Status, label string, at time.Time) (domain.Proposal, error) {
	if err := requirePending(op, p); err != nil {
		return p, err
	}
	if p.LastUpdatedBy == actor.ID {
		return p, domain.InvalidTransition(op, domain.RuleNotYourTurn)
	}
	return terminate(p, actor, status, label, at), nil
}

func terminate(p domain.Proposal, actor domain.Party, status domain.Status, label string, at time.Time) domain.Proposal {
	next := p.Clone()
	next.Status = status
	next.History = append(next.History, event(label, actor.ID, at))
	next.LastUpdatedBy = actor.ID
	return next
}

func requirePending(op string, p domain.Proposal) error {
	switch {
	case !p.Live():
		return domain.InvalidTransition(op, domain.RuleNoLiveProposal)
	case p.Status.Terminal():
		return domain.InvalidTransition(op, domain.RuleAlreadyTerminal)
	case p.Status != domain.StatusPending:
		return domain.InvalidTransition(op, domain.RuleNoLiveProposal)
	}
	return nil
}

// normalize trims keys, assigns ids to new terms and rejects duplicates.
func normalize(op string, terms []domain.Term) ([]domain.Term, error) {
	out := make([]domain.Term, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t.Key = strings.TrimSpace(t.Key)
		if t.Key == "" {
			return nil, domain.InvalidTransition(op, domain.RuleInvalidTerms)
		}
		if t.ID == "" {
			t.ID = newID()
		}
		if seen[t.ID] {
			return nil, domain.InvalidTransition(op, domain.RuleDuplicateTermID)
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out, nil
}

// stamp sets lastEditedBy on terms that are new or differ from the committed ones.
func stamp(committed, staged []domain.Term, actorID string) []domain.Term {
	byID := make(map[string]domain.Term, len(committed))
	for _, t := range committed {
		byID[t.ID] = t
	}
	out := slices.Clone(staged)
	for i, t := range out {
		prev, ok := byID[t.ID]
		if ok && prev.Key == t.Key && prev.Value == t.Value {
			out[i].LastEditedBy = prev.LastEditedBy
			continue
		}
		out[i].LastEditedBy = actorID
	}
	return out
}

func hasSend(history []domain.HistoryEvent) bool {
	for _, h := range history {
		if h.Event == domain.EventInitialSent || h.Event == domain.EventCounterSent {
			return true
		}
	}
	return false
}

func event(label, actorID string, at time.Time) domain.HistoryEvent {
	return domain.HistoryEvent{ID: newID(), Event: label, Actor: actorID, Timestamp: at.UTC()}
}

// opError re-labels an invalid transition raised by a nested step.
func opError(err error, op string) error {
	if ite, ok := err.(*domain.InvalidTransitionError); ok {
		return domain.InvalidTransition(op, ite.Rule)
	}
	return err
}
