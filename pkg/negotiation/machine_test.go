package negotiation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/domain"
)

var (
	investor = domain.Party{ID: "inv-1", Role: domain.RoleInvestor}
	business = domain.Party{ID: "biz-1", Role: domain.RoleBusiness}
	t0       = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

func created(t *testing.T, terms []domain.Term) domain.Proposal {
	t.Helper()
	p, err := Create(domain.NoProposal(), investor, terms, t0)
	require.NoError(t, err)
	return p
}

func TestCreate_StarterTerms(t *testing.T) {
	p := created(t, nil)

	assert.Equal(t, domain.StatusPending, p.Status)
	assert.Equal(t, investor.ID, p.LastUpdatedBy)
	require.Len(t, p.History, 1)
	assert.Equal(t, domain.EventCreated, p.History[0].Event)
	assert.Equal(t, investor.ID, p.History[0].Actor)

	keys := make([]string, 0, len(p.Terms))
	for _, term := range p.Terms {
		keys = append(keys, term.Key)
		assert.NotEmpty(t, term.ID)
		assert.Empty(t, term.Value)
		assert.Equal(t, investor.ID, term.LastEditedBy)
	}
	assert.Equal(t, []string{"Investment Amount", "Equity Stake (%)", "Valuation Cap"}, keys)
}

func TestCreate_Preconditions(t *testing.T) {
	_, err := Create(domain.NoProposal(), business, nil, t0)
	assert.True(t, domain.IsRule(err, domain.RuleRoleNotPermitted))

	p := created(t, nil)
	_, err = Create(p, investor, nil, t0)
	assert.True(t, domain.IsRule(err, domain.RuleProposalExists))

	accepted, err := Accept(p, business, t0)
	require.NoError(t, err)
	_, err = Create(accepted, investor, nil, t0)
	assert.True(t, domain.IsRule(err, domain.RuleProposalExists), "a terminal proposal still exists")

	_, err = Create(domain.NoProposal(), investor, []domain.Term{{Key: "  "}}, t0)
	assert.True(t, domain.IsRule(err, domain.RuleInvalidTerms))

	_, err = Create(domain.NoProposal(), investor, []domain.Term{{ID: "x", Key: "a"}, {ID: "x", Key: "b"}}, t0)
	assert.True(t, domain.IsRule(err, domain.RuleDuplicateTermID))
}

// Scenario A.
func TestScenario_CreateThenAccept(t *testing.T) {
	p := created(t, nil)
	assert.Len(t, p.History, 1)

	p, err := Accept(p, business, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, p.Status)
	assert.Len(t, p.History, 2)
	assert.Equal(t, domain.EventAccepted, p.History[1].Event)
	assert.Equal(t, business.ID, p.LastUpdatedBy)
}

// Scenario B.
func TestScenario_SelfAcceptRefused(t *testing.T) {
	p := created(t, nil)
	before := p.Clone()

	_, err := Accept(p, investor, t0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.True(t, domain.IsRule(err, domain.RuleNotYourTurn))
	assert.Equal(t, before, p)

	_, err = Reject(p, investor, t0)
	assert.True(t, domain.IsRule(err, domain.RuleNotYourTurn))
}

// Scenario C.
func TestScenario_CounterProposal(t *testing.T) {
	p := created(t, []domain.Term{{Key: "Investment Amount", Value: "₹50L"}})
	require.Len(t, p.Terms, 1)

	edited := []domain.Term{{ID: p.Terms[0].ID, Key: "Investment Amount", Value: "₹40L"}}
	p, err := Send(p, business, edited, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, business.ID, p.LastUpdatedBy)
	assert.Len(t, p.History, 2)
	assert.Equal(t, "₹40L", p.Terms[0].Value)
	assert.Equal(t, business.ID, p.Terms[0].LastEditedBy)
	assert.True(t, IsTurn(p, investor.ID))
	assert.False(t, IsTurn(p, business.ID))
}

func TestSend_Labels(t *testing.T) {
	p := created(t, nil)

	p, err := Send(p, investor, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventInitialSent, p.History[1].Event)

	p, err = Send(p, business, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCounterSent, p.History[2].Event)

	p, err = Send(p, investor, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCounterSent, p.History[3].Event)
}

func TestHistoryGrowsByOnePerCommit(t *testing.T) {
	p := created(t, nil)
	actors := []domain.Party{business, investor, business, investor}
	for i, a := range actors {
		var err error
		p, err = Send(p, a, nil, t0)
		require.NoError(t, err)
		assert.Len(t, p.History, i+2)
	}
}

func TestEdit_StampsOnlyChangedTerms(t *testing.T) {
	p := created(t, []domain.Term{
		{Key: "Investment Amount", Value: "₹50L"},
		{Key: "Valuation Cap", Value: "₹5Cr"},
	})

	staged, err := Edit(p, business, []domain.Term{
		{ID: p.Terms[0].ID, Key: "Investment Amount", Value: "₹40L"},
		{ID: p.Terms[1].ID, Key: "Valuation Cap", Value: "₹5Cr"},
		{Key: "Board Seat", Value: "1"},
	})
	require.NoError(t, err)
	require.Len(t, staged, 3)

	assert.Equal(t, business.ID, staged[0].LastEditedBy)
	assert.Equal(t, investor.ID, staged[1].LastEditedBy, "unchanged term keeps its stamp")
	assert.Equal(t, business.ID, staged[2].LastEditedBy)
	assert.NotEmpty(t, staged[2].ID)

	assert.Len(t, p.History, 1, "editing never touches history")
	assert.Equal(t, investor.ID, p.LastUpdatedBy)
}

func TestEdit_ForeignStampIsOverwritten(t *testing.T) {
	p := created(t, nil)
	staged, err := Edit(p, business, []domain.Term{{Key: "New", Value: "x", LastEditedBy: "mallory"}})
	require.NoError(t, err)
	assert.Equal(t, business.ID, staged[0].LastEditedBy)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	p := created(t, nil)
	accepted, err := Accept(p, business, t0)
	require.NoError(t, err)
	rejected, err := Reject(p, business, t0)
	require.NoError(t, err)
	withdrawn, err := Withdraw(p, investor, t0)
	require.NoError(t, err)

	for _, terminal := range []domain.Proposal{accepted, rejected, withdrawn} {
		_, err := Send(terminal, investor, nil, t0)
		assert.True(t, domain.IsRule(err, domain.RuleAlreadyTerminal), terminal.Status)
		_, err = Accept(terminal, investor, t0)
		assert.True(t, domain.IsRule(err, domain.RuleAlreadyTerminal))
		_, err = Reject(terminal, investor, t0)
		assert.True(t, domain.IsRule(err, domain.RuleAlreadyTerminal))
		_, err = Withdraw(terminal, business, t0)
		assert.True(t, domain.IsRule(err, domain.RuleAlreadyTerminal))
		_, err = Edit(terminal, business, nil)
		assert.True(t, domain.IsRule(err, domain.RuleAlreadyTerminal))
	}
}

func TestNoLiveProposal(t *testing.T) {
	np := domain.NoProposal()
	_, err := Send(np, investor, nil, t0)
	assert.True(t, domain.IsRule(err, domain.RuleNoLiveProposal))
	_, err = Accept(np, business, t0)
	assert.True(t, domain.IsRule(err, domain.RuleNoLiveProposal))
	_, err = Edit(np, business, nil)
	assert.True(t, domain.IsRule(err, domain.RuleNoLiveProposal))
	_, err = CancelEdit(np, investor)
	assert.True(t, domain.IsRule(err, domain.RuleNoLiveProposal))
	assert.False(t, IsTurn(np, investor.ID))
}

func TestSend_ReportsSendOperation(t *testing.T) {
	_, err := Send(domain.NoProposal(), investor, nil, t0)
	var ite *domain.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, OpSend, ite.Op)
}

func TestWithdraw_OnlyByOfferingParty(t *testing.T) {
	p := created(t, nil)
	_, err := Withdraw(p, business, t0)
	assert.True(t, domain.IsRule(err, domain.RuleNotYourOffer))

	w, err := Withdraw(p, investor, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, w.Status)
	assert.Equal(t, domain.EventWithdrawn, w.History[len(w.History)-1].Event)
}

func TestCancelEdit(t *testing.T) {
	blank := created(t, nil)

	revert, err := CancelEdit(blank, investor)
	require.NoError(t, err)
	assert.True(t, revert, "unfilled unsent draft reverts")

	revert, err = CancelEdit(blank, business)
	require.NoError(t, err)
	assert.False(t, revert, "only the creator reverts the draft")

	filled := created(t, []domain.Term{{Key: "Investment Amount", Value: "₹50L"}})
	revert, err = CancelEdit(filled, investor)
	require.NoError(t, err)
	assert.False(t, revert)

	sent, err := Send(blank, investor, nil, t0)
	require.NoError(t, err)
	revert, err = CancelEdit(sent, investor)
	require.NoError(t, err)
	assert.False(t, revert, "a sent proposal never reverts")

	r := Revert(blank)
	assert.Equal(t, domain.StatusNoProposal, r.Status)
	assert.Empty(t, r.Terms)
	assert.False(t, r.Live())
}

func TestDraft(t *testing.T) {
	p := created(t, []domain.Term{{Key: "Investment Amount", Value: "₹50L"}})
	p.Version = 1
	d := NewDraft(p)
	assert.False(t, d.Dirty())
	assert.Equal(t, p.Terms, d.Terms())

	require.NoError(t, d.Stage(business, []domain.Term{{ID: p.Terms[0].ID, Key: "Investment Amount", Value: "₹40L"}}))
	assert.True(t, d.Dirty())
	assert.Equal(t, "₹40L", d.Terms()[0].Value)
	assert.Equal(t, "₹50L", d.Base().Terms[0].Value)

	// Same version: staged edits survive.
	assert.False(t, d.Rebase(p))
	assert.True(t, d.Dirty())

	next := p.Clone()
	next.Version = 2
	assert.True(t, d.Rebase(next), "a newer snapshot supersedes staged edits")
	assert.False(t, d.Dirty())
	assert.True(t, d.Superseded())
	assert.Equal(t, "₹50L", d.Terms()[0].Value)

	// Further snapshots keep the marker until the party acts.
	third := next.Clone()
	third.Version = 3
	assert.False(t, d.Rebase(third))
	assert.True(t, d.Superseded())

	// Rebasing a clean draft marks nothing.
	d.Settle()
	assert.False(t, d.Superseded())
	later := next.Clone()
	later.Version = 4
	assert.False(t, d.Rebase(later))
	assert.False(t, d.Superseded())

	require.NoError(t, d.Stage(business, nil))
	assert.True(t, d.Discard())
	assert.False(t, d.Discard())
	assert.False(t, d.Superseded())
}
