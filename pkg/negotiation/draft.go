package negotiation

import (
	"slices"

	"github.com/aretw0/dealroom/pkg/domain"
)

// Draft holds one party's unsent edits on top of a committed snapshot.
// It is not safe for concurrent use.
type Draft struct {
	base   domain.Proposal
	staged []domain.Term
	dirty  bool

	// superseded is set when Rebase dropped staged edits and cleared by the
	// next Stage, Discard or Settle.
	superseded bool
}

// NewDraft starts a draft with no staged edits.
func NewDraft(base domain.Proposal) *Draft {
	return &Draft{base: base}
}

// Base returns the committed snapshot the draft was staged against.
func (d *Draft) Base() domain.Proposal {
	return d.base
}

// Dirty reports whether edits are staged.
func (d *Draft) Dirty() bool {
	return d.dirty
}

// Terms returns the staged terms, or the committed ones when nothing is staged.
func (d *Draft) Terms() []domain.Term {
	if d.dirty {
		return slices.Clone(d.staged)
	}
	return slices.Clone(d.base.Terms)
}

// Stage replaces the staged terms.
func (d *Draft) Stage(actor domain.Party, terms []domain.Term) error {
	staged, err := Edit(d.base, actor, terms)
	if err != nil {
		return err
	}
	d.staged, d.dirty, d.superseded = staged, true, false
	return nil
}

// Discard drops staged edits and reports whether there were any.
func (d *Draft) Discard() bool {
	was := d.dirty
	d.staged, d.dirty, d.superseded = nil, false, false
	return was
}

// Superseded reports whether Rebase dropped staged edits since the last
// Stage, Discard or Settle.
func (d *Draft) Superseded() bool {
	return d.superseded
}

// Settle clears the superseded marker once the party has committed on a
// snapshot it observed. Staged edits are kept.
func (d *Draft) Settle() {
	d.superseded = false
}

// Rebase moves the draft onto a newer committed snapshot. Staged edits made
// against a superseded snapshot are discarded; Rebase reports whether that happened.
func (d *Draft) Rebase(p domain.Proposal) bool {
	if p.Version == d.base.Version {
		d.base = p
		return false
	}
	d.base = p
	if !d.dirty {
		return false
	}
	d.staged, d.dirty, d.superseded = nil, false, true
	return true
}
