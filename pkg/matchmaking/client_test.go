package matchmaking_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/matchmaking"
)

func TestEndpoint(t *testing.T) {
	p, err := matchmaking.Endpoint(domain.RoleBusiness)
	require.NoError(t, err)
	assert.Equal(t, "/matchmaking/find-investor-matches/", p)

	p, err = matchmaking.Endpoint(domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, "/matchmaking/find-startup-matches/", p)

	_, err = matchmaking.Endpoint("lender")
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	self := domain.Profile{ID: "acme", Role: domain.RoleBusiness}
	cs := []domain.Profile{{ID: "vc-1", Role: domain.RoleInvestor}}
	req := matchmaking.BuildRequest(self, cs)
	cs[0].ID = "mutated"

	assert.Equal(t, "acme", req.Self.ID)
	assert.Equal(t, "vc-1", req.Counterparts[0].ID)
}

func TestClient_Score(t *testing.T) {
	var got matchmaking.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/matchmaking/find-investor-matches/", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"counterpartId":"vc-1","score":87.5,"rationale":"sector fit","strengths":["fintech"]}]}`))
	}))
	defer srv.Close()

	c := matchmaking.NewClient(srv.URL + "/")
	req := matchmaking.BuildRequest(
		domain.Profile{ID: "acme", Role: domain.RoleBusiness},
		[]domain.Profile{{ID: "vc-1", Role: domain.RoleInvestor}},
	)
	matches, err := c.Score(context.Background(), domain.RoleBusiness, req)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "vc-1", matches[0].CounterpartID)
	assert.Equal(t, 87.5, matches[0].Score)
	assert.Equal(t, []string{"fintech"}, matches[0].Strengths)
	assert.JSONEq(t, `{"counterpartId":"vc-1","score":87.5,"rationale":"sector fit","strengths":["fintech"]}`, string(matches[0].Raw))
	assert.Equal(t, "acme", got.Self.ID)
	assert.Len(t, got.Counterparts, 1)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`},
		{"html page", http.StatusOK, `<html><body>Bad Gateway</body></html>`},
		{"truncated json", http.StatusOK, `{"matches":[{"counterpartId":"vc-1"`},
		{"no matches array", http.StatusOK, `{"results":[]}`},
		{"matches not array", http.StatusOK, `{"matches":{}}`},
		{"score out of range", http.StatusOK, `{"matches":[{"counterpartId":"vc-1","score":140}]}`},
		{"missing counterpart", http.StatusOK, `{"matches":[{"score":40}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := matchmaking.NewClient(srv.URL).Score(context.Background(), domain.RoleInvestor, matchmaking.Request{})
			require.Error(t, err)

			var ese *domain.ExternalServiceError
			require.True(t, errors.As(err, &ese))
			assert.Equal(t, tt.status, ese.StatusCode)
			assert.Equal(t, tt.body, string(ese.Payload))
			assert.Equal(t, "external_service", domain.Kind(err))
		})
	}
}

func TestClient_EmptyMatchesIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[]}`))
	}))
	defer srv.Close()

	matches, err := matchmaking.NewClient(srv.URL).Score(context.Background(), domain.RoleInvestor, matchmaking.Request{})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := matchmaking.NewClient(srv.URL, matchmaking.WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.Score(context.Background(), domain.RoleBusiness, matchmaking.Request{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var ese *domain.ExternalServiceError
	assert.True(t, errors.As(err, &ese))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
