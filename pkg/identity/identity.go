// Package identity resolves the party behind a request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aretw0/dealroom/pkg/domain"
)

// ErrUnauthenticated is returned for missing, malformed or expired credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the signed-in party and its display profile.
type Identity struct {
	Party   domain.Party
	Profile domain.Profile
}

// Provider authenticates a bearer token.
type Provider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// ProfileLookup loads the profile of an authenticated party.
type ProfileLookup interface {
	Get(ctx context.Context, role domain.Role, id string) (domain.Profile, error)
}

// Static maps fixed tokens to identities. Useful for local runs and tests.
type Static map[string]Identity

func (s Static) Authenticate(_ context.Context, token string) (Identity, error) {
	id, ok := s[strings.TrimSpace(token)]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Claims are the token claims understood by JWT.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWT verifies HS256 tokens carrying sub, role and name.
type JWT struct {
	secret   []byte
	profiles ProfileLookup
	now      func() time.Time
}

// JWTOption configures a JWT provider.
type JWTOption func(*JWT)

// WithProfiles attaches profiles to authenticated identities. A missing
// profile is not an error; the identity then carries only the party fields.
func WithProfiles(p ProfileLookup) JWTOption {
	return func(j *JWT) { j.profiles = p }
}

// WithClock overrides the clock used to check expiry.
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWT) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJWT creates a provider for tokens signed with secret.
func NewJWT(secret []byte, opts ...JWTOption) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	j := &JWT{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func (j *JWT) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: sub is required", ErrUnauthenticated)
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	party := domain.Party{ID: claims.Subject, Role: role, DisplayName: claims.Name}
	id := Identity{Party: party, Profile: domain.Profile{ID: party.ID, Role: role, DisplayName: party.DisplayName}}
	if j.profiles != nil {
		if p, err := j.profiles.Get(ctx, role, party.ID); err == nil {
			id.Profile = p
			if id.Party.DisplayName == "" {
				id.Party.DisplayName = p.DisplayName
			}
		}
	}
	return id, nil
}

// Issue signs a token for party valid for ttl, which must be positive.
func (j *JWT) Issue(party domain.Party, ttl time.Duration) (string, error) {
	if !party.Role.Valid() {
		return "", fmt.Errorf("invalid role %q", party.Role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token lifetime must be positive, got %s", ttl)
	}
	now := j.now()
	claims := Claims{
		Role: string(party.Role),
		Name: party.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   party.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
