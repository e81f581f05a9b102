package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/adapters/memory"
	"github.com/aretw0/dealroom/pkg/coordinator"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/directory"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/feed"
	"github.com/aretw0/dealroom/pkg/gateway"
	"github.com/aretw0/dealroom/pkg/identity"
	"github.com/aretw0/dealroom/pkg/kv"
	"github.com/aretw0/dealroom/pkg/matchmaking"
	"github.com/aretw0/dealroom/pkg/negotiation"
)

var (
	investor = domain.Party{ID: "inv-1", Role: domain.RoleInvestor}
	business = domain.Party{ID: "biz-1", Role: domain.RoleBusiness}
)

type stubScorer struct{ calls atomic.Int32 }

func (s *stubScorer) Score(context.Context, domain.Role, matchmaking.Request) ([]domain.Match, error) {
	s.calls.Add(1)
	return []domain.Match{{CounterpartID: "inv-1", Score: 90}}, nil
}

type fixture struct {
	srv     *httptest.Server
	dir     *directory.Store
	scorer  *stubScorer
	matches *kv.Memory
}

func newFixture(t *testing.T, withFinder bool) *fixture {
	t.Helper()
	store := core.NewService(memory.NewRepository())
	convs := coordinator.NewConversations(store)
	coord := coordinator.New(convs, negotiation.NewService(store), feed.New(store))
	_, err := convs.Create(context.Background(), "c1", business, investor)
	require.NoError(t, err)

	auth := identity.Static{
		"inv-token": {Party: investor, Profile: domain.Profile{ID: investor.ID, Role: investor.Role}},
		"biz-token": {Party: business, Profile: domain.Profile{ID: business.ID, Role: business.Role}},
		"out-token": {Party: domain.Party{ID: "stranger", Role: domain.RoleInvestor}},
	}

	f := &fixture{dir: directory.NewStore(store), scorer: &stubScorer{}, matches: kv.NewMemory()}
	var opts []gateway.Option
	if withFinder {
		cache := matchmaking.NewCache(f.matches, 0, nil)
		opts = append(opts, gateway.WithFinder(matchmaking.NewFinder(cache, f.dir, f.scorer, nil)))
	}
	f.srv = httptest.NewServer(gateway.New(coord, auth, opts...).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) dial(t *testing.T, token, conv string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?conversation=" + conv + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, pred func(gateway.ServerFrame) bool) gateway.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f gateway.ServerFrame
		require.NoError(t, conn.ReadJSON(&f))
		if pred(f) {
			return f
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSession_RefusesBeforeUpgrade(t *testing.T) {
	f := newFixture(t, false)
	tests := map[string]struct {
		query  string
		status int
	}{
		"no token":        {"conversation=c1", http.StatusUnauthorized},
		"bad token":       {"conversation=c1&token=nope", http.StatusUnauthorized},
		"no conversation": {"token=inv-token", http.StatusBadRequest},
		"unknown conv":    {"conversation=zzz&token=inv-token", http.StatusNotFound},
		"outsider":        {"conversation=c1&token=out-token", http.StatusForbidden},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + "/ws?" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSession_Negotiation(t *testing.T) {
	f := newFixture(t, false)
	inv := f.dial(t, "inv-token", "c1")
	biz := f.dial(t, "biz-token", "c1")

	isUpdate := func(fr gateway.ServerFrame) bool { return fr.Type == gateway.FrameUpdate }
	readUntil(t, inv, isUpdate)
	readUntil(t, biz, isUpdate)

	require.NoError(t, inv.WriteJSON(gateway.ClientFrame{ID: "1", Action: gateway.ActionCreate, Terms: []domain.Term{{Key: "Investment Amount", Value: "₹50L"}}}))
	ack := readUntil(t, inv, func(fr gateway.ServerFrame) bool { return fr.ID == "1" })
	assert.Equal(t, gateway.FrameAck, ack.Type)

	up := readUntil(t, biz, func(fr gateway.ServerFrame) bool {
		return fr.Type == gateway.FrameUpdate && fr.Update.Snapshot.YourTurn
	})
	assert.Equal(t, domain.StatusPending, up.Update.Snapshot.Proposal.Status)

	// The investor may not accept its own offer.
	require.NoError(t, inv.WriteJSON(gateway.ClientFrame{ID: "2", Action: gateway.ActionAccept}))
	fail := readUntil(t, inv, func(fr gateway.ServerFrame) bool { return fr.ID == "2" })
	assert.Equal(t, gateway.FrameError, fail.Type)
	require.NotNil(t, fail.Error)
	assert.Equal(t, "invalid_transition", fail.Error.Kind)
	assert.Equal(t, domain.RuleNotYourTurn, fail.Error.Rule)

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "3", Action: gateway.ActionAccept}))
	ack = readUntil(t, biz, func(fr gateway.ServerFrame) bool { return fr.ID == "3" })
	assert.Equal(t, gateway.FrameAck, ack.Type)

	up = readUntil(t, inv, func(fr gateway.ServerFrame) bool {
		return fr.Type == gateway.FrameUpdate && fr.Update.Snapshot.Proposal.Status == domain.StatusAccepted
	})
	assert.Len(t, up.Update.Snapshot.Proposal.History, 2)
}

func TestSession_SendChecksObservedVersion(t *testing.T) {
	f := newFixture(t, false)
	inv := f.dial(t, "inv-token", "c1")
	biz := f.dial(t, "biz-token", "c1")
	version := func(v int64) *int64 { return &v }

	require.NoError(t, inv.WriteJSON(gateway.ClientFrame{ID: "1", Action: gateway.ActionCreate, Terms: []domain.Term{{Key: "Investment Amount", Value: "₹50L"}}}))
	up := readUntil(t, biz, func(fr gateway.ServerFrame) bool {
		return fr.Type == gateway.FrameUpdate && fr.Update.Snapshot.YourTurn
	})
	seen := up.Update.Snapshot
	require.Equal(t, int64(1), seen.ProposalVersion)

	counter := seen.Proposal.Terms
	counter[0].Value = "₹40L"

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "2", Action: gateway.ActionSend, Terms: counter}))
	fail := readUntil(t, biz, func(fr gateway.ServerFrame) bool { return fr.ID == "2" })
	require.NotNil(t, fail.Error)
	assert.Equal(t, "bad_request", fail.Error.Kind)

	// The investor moves the proposal on before the business sends.
	raised := seen.Proposal.Clone().Terms
	raised[0].Value = "₹60L"
	require.NoError(t, inv.WriteJSON(gateway.ClientFrame{ID: "3", Action: gateway.ActionSend, Terms: raised, Version: version(1)}))
	ack := readUntil(t, inv, func(fr gateway.ServerFrame) bool { return fr.ID == "3" })
	require.Equal(t, gateway.FrameAck, ack.Type)

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "4", Action: gateway.ActionSend, Terms: counter, Version: version(1)}))
	fail = readUntil(t, biz, func(fr gateway.ServerFrame) bool { return fr.ID == "4" })
	require.NotNil(t, fail.Error)
	assert.Equal(t, domain.RuleStaleSnapshot, fail.Error.Rule)

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "5", Action: gateway.ActionSend, Terms: counter, Version: version(2)}))
	ack = readUntil(t, biz, func(fr gateway.ServerFrame) bool { return fr.ID == "5" })
	require.Equal(t, gateway.FrameAck, ack.Type)

	up = readUntil(t, inv, func(fr gateway.ServerFrame) bool {
		return fr.Type == gateway.FrameUpdate && fr.Update.Snapshot.Proposal.LastUpdatedBy == business.ID
	})
	assert.Equal(t, "₹40L", up.Update.Snapshot.Proposal.Terms[0].Value)
	assert.Equal(t, int64(3), up.Update.Snapshot.ProposalVersion)
}

func TestSession_MessagesAndUnknownAction(t *testing.T) {
	f := newFixture(t, false)
	biz := f.dial(t, "biz-token", "c1")

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "m", Action: gateway.ActionMessage, Content: "hello"}))
	up := readUntil(t, biz, func(fr gateway.ServerFrame) bool {
		return fr.Type == gateway.FrameUpdate && len(fr.Update.Snapshot.Messages) == 1
	})
	assert.Equal(t, "hello", up.Update.Snapshot.Messages[0].Content)

	require.NoError(t, biz.WriteJSON(gateway.ClientFrame{ID: "x", Action: "dance"}))
	fail := readUntil(t, biz, func(fr gateway.ServerFrame) bool { return fr.ID == "x" })
	require.NotNil(t, fail.Error)
	assert.Equal(t, "bad_request", fail.Error.Kind)
}

func TestMatches(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	get := func(method, token string, query ...string) *http.Response {
		url := f.srv.URL + "/matches"
		if len(query) > 0 {
			url += "?" + query[0]
		}
		req, err := http.NewRequest(method, url, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// No investors in the directory yet.
	resp := get(http.MethodGet, "biz-token")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(0), f.scorer.calls.Load())

	require.NoError(t, f.dir.Put(ctx, domain.Profile{ID: "inv-1", Role: domain.RoleInvestor}))
	resp = get(http.MethodGet, "biz-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry matchmaking.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
	assert.Equal(t, "biz-1", entry.OwnerPartyID)
	require.Len(t, entry.Matches, 1)

	get(http.MethodGet, "biz-token")
	assert.Equal(t, int32(1), f.scorer.calls.Load())

	resp = get(http.MethodDelete, "biz-token")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	get(http.MethodGet, "biz-token")
	assert.Equal(t, int32(2), f.scorer.calls.Load())

	resp = get(http.MethodGet, "nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The role parameter may restate the caller's role but never change it.
	resp = get(http.MethodGet, "biz-token", "role=business")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = get(http.MethodGet, "biz-token", "role=investor")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = get(http.MethodDelete, "biz-token", "role=investor")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = get(http.MethodGet, "biz-token", "role=lender")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(2), f.scorer.calls.Load())

	_, err := f.matches.Get(ctx, matchmaking.CacheKey(domain.RoleInvestor, "biz-1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMatches_Disabled(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/matches")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
