package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/adapters/memory"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/directory"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/identity"
)

var secret = []byte("test-secret")

func TestJWT_RoundTrip(t *testing.T) {
	j, err := identity.NewJWT(secret)
	require.NoError(t, err)

	tok, err := j.Issue(domain.Party{ID: "vc-1", Role: domain.RoleInvestor, DisplayName: "Ventures"}, time.Hour)
	require.NoError(t, err)

	id, err := j.Authenticate(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal(t, "vc-1", id.Party.ID)
	assert.Equal(t, domain.RoleInvestor, id.Party.Role)
	assert.Equal(t, "Ventures", id.Party.DisplayName)
	assert.Equal(t, "vc-1", id.Profile.ID)
}

func TestJWT_WithProfiles(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStore(core.NewService(memory.NewRepository()))
	require.NoError(t, dir.Put(ctx, domain.Profile{ID: "acme", Role: domain.RoleBusiness, DisplayName: "Acme", Industry: "fintech"}))

	j, err := identity.NewJWT(secret, identity.WithProfiles(dir))
	require.NoError(t, err)
	tok, err := j.Issue(domain.Party{ID: "acme", Role: domain.RoleBusiness}, time.Hour)
	require.NoError(t, err)

	id, err := j.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "fintech", id.Profile.Industry)
	assert.Equal(t, "Acme", id.Party.DisplayName)
}

func TestJWT_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j, err := identity.NewJWT(secret, identity.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims identity.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := identity.Claims{
		Role:             "investor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "vc-1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	badRole := valid
	badRole.Role = "lender"
	noSub := valid
	noSub.Subject = ""
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"wrong key":  sign(jwt.SigningMethodHS256, []byte("other"), valid),
		"wrong alg":  sign(jwt.SigningMethodHS512, secret, valid),
		"expired":    sign(jwt.SigningMethodHS256, secret, expired),
		"bad role":   sign(jwt.SigningMethodHS256, secret, badRole),
		"no subject": sign(jwt.SigningMethodHS256, secret, noSub),
		"no expiry":  sign(jwt.SigningMethodHS256, secret, noExpiry),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := j.Authenticate(context.Background(), tok)
			assert.ErrorIs(t, err, identity.ErrUnauthenticated)
		})
	}

	_, err = j.Authenticate(context.Background(), sign(jwt.SigningMethodHS256, secret, valid))
	assert.NoError(t, err)
}

func TestJWT_IssueRequiresLifetime(t *testing.T) {
	j, err := identity.NewJWT(secret)
	require.NoError(t, err)
	for _, ttl := range []time.Duration{0, -time.Minute} {
		_, err := j.Issue(domain.Party{ID: "vc-1", Role: domain.RoleInvestor}, ttl)
		assert.Error(t, err, "ttl %s", ttl)
	}
}

func TestNewJWT_RequiresSecret(t *testing.T) {
	_, err := identity.NewJWT(nil)
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := identity.Static{"tok": {Party: domain.Party{ID: "acme", Role: domain.RoleBusiness}}}
	id, err := s.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "acme", id.Party.ID)

	_, err = s.Authenticate(context.Background(), "nope")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}
