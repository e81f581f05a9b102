package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/domain"
)

func TestRole(t *testing.T) {
	assert.Equal(t, domain.RoleInvestor, domain.RoleBusiness.Counterpart())
	assert.Equal(t, domain.RoleBusiness, domain.RoleInvestor.Counterpart())
	assert.False(t, domain.Role("admin").Valid())

	_, err := domain.ParseRole("admin")
	assert.Error(t, err)
	r, err := domain.ParseRole("investor")
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleInvestor, r)
}

func TestConversation_Participants(t *testing.T) {
	c := domain.Conversation{
		ID: "c1",
		Participants: [2]domain.Party{
			{ID: "biz-1", Role: domain.RoleBusiness},
			{ID: "inv-1", Role: domain.RoleInvestor},
		},
	}
	assert.True(t, c.Has("biz-1"))
	assert.False(t, c.Has("someone"))

	other, ok := c.Other("biz-1")
	assert.True(t, ok)
	assert.Equal(t, "inv-1", other.ID)

	_, ok = c.Other("someone")
	assert.False(t, ok)
}

func TestProposal_CloneIsDeep(t *testing.T) {
	p := domain.Proposal{Status: domain.StatusPending, Terms: []domain.Term{{ID: "t1", Key: "k", Value: "v"}}}
	c := p.Clone()
	c.Terms[0].Value = "changed"
	assert.Equal(t, "v", p.Terms[0].Value)
	assert.False(t, domain.NoProposal().Live())
	assert.True(t, p.Live())
}

func TestMatch_JSON(t *testing.T) {
	var m domain.Match
	require.NoError(t, json.Unmarshal([]byte(`{"counterpartId":"vc-1","score":55,"stage":"seed"}`), &m))
	assert.Equal(t, "vc-1", m.CounterpartID)
	assert.Equal(t, 55.0, m.Score)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counterpartId":"vc-1","score":55,"stage":"seed"}`, string(out))

	out, err = json.Marshal(domain.Match{CounterpartID: "vc-2", Score: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"counterpartId":"vc-2","score":10}`, string(out))
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusAccepted, domain.StatusRejected, domain.StatusWithdrawn} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusNoProposal.Terminal())
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", domain.InvalidTransition("accept", domain.RuleNotYourTurn))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.True(t, domain.IsRule(err, domain.RuleNotYourTurn))
	assert.False(t, domain.IsRule(err, domain.RuleAlreadyTerminal))
	assert.Equal(t, "invalid_transition", domain.Kind(err))

	ese := &domain.ExternalServiceError{Endpoint: "/x", StatusCode: 502, Payload: []byte("<html>bad gateway</html>")}
	assert.Contains(t, ese.Error(), "HTTP 502")
	assert.Contains(t, ese.Error(), "<html>")
	assert.Equal(t, "external_service", domain.Kind(ese))

	base := errors.New("disk full")
	swe := &domain.StoreWriteError{ID: "conversations/c1/proposal", Err: base}
	assert.True(t, errors.Is(swe, base))
	assert.Equal(t, "store_write", domain.Kind(swe))

	assert.Equal(t, "empty_candidate_set", domain.Kind(domain.ErrEmptyCandidateSet))
	assert.Equal(t, "internal", domain.Kind(errors.New("boom")))
	assert.Equal(t, "", domain.Kind(nil))
}
