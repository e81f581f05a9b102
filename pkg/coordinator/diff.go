package coordinator

import (
	"slices"

	"github.com/aretw0/dealroom/pkg/domain"
)

// Change names a part of the view that differs between two snapshots.
type Change string

const (
	ChangeStatus         Change = "status"
	ChangeTerms          Change = "terms"
	ChangeHistory        Change = "history"
	ChangeTurn           Change = "turn"
	ChangeMessages       Change = "messages"
	ChangeDraftDiscarded Change = "draft-discarded"
)

// Snapshot is everything a bound party's view renders. ProposalVersion is
// the version mutations are conditioned on; Draft is nil unless edits are staged.
type Snapshot struct {
	Conversation    domain.Conversation `json:"conversation"`
	Self            domain.Party        `json:"self"`
	Proposal        domain.Proposal     `json:"proposal"`
	ProposalVersion int64               `json:"proposalVersion"`
	Draft           []domain.Term       `json:"draft,omitempty"`
	YourTurn        bool                `json:"yourTurn"`
	Messages        []domain.Message    `json:"messages"`
}

// Terms returns what the party sees in the editor: staged terms if any,
// otherwise the committed ones.
func (s Snapshot) Terms() []domain.Term {
	if s.Draft != nil {
		return s.Draft
	}
	return s.Proposal.Terms
}

// Update is emitted whenever the snapshot changes.
type Update struct {
	Snapshot Snapshot `json:"snapshot"`
	Changes  []Change `json:"changes"`
}

// Diff lists the parts of next that differ from prev, in a stable order.
func Diff(prev, next Snapshot) []Change {
	var out []Change
	if prev.Proposal.Status != next.Proposal.Status {
		out = append(out, ChangeStatus)
	}
	if !slices.Equal(prev.Terms(), next.Terms()) {
		out = append(out, ChangeTerms)
	}
	if len(prev.Proposal.History) != len(next.Proposal.History) {
		out = append(out, ChangeHistory)
	}
	if prev.YourTurn != next.YourTurn {
		out = append(out, ChangeTurn)
	}
	if !sameMessages(prev.Messages, next.Messages) {
		out = append(out, ChangeMessages)
	}
	return out
}

func sameMessages(a, b []domain.Message) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || a[len(a)-1].ID == b[len(b)-1].ID
}

// mergeChanges returns the union of a and b in first-seen order.
func mergeChanges(a, b []Change) []Change {
	out := slices.Clone(a)
	for _, c := range b {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
