// Package matchmaking finds and caches scored counterparts for a party.
package matchmaking

import (
	"fmt"

	"github.com/aretw0/dealroom/pkg/domain"
)

// Request is the batch body sent to the scoring service.
type Request struct {
	Self         domain.Profile   `json:"self"`
	Counterparts []domain.Profile `json:"counterparts"`
}

// Response is the scoring service's reply.
type Response struct {
	Matches []domain.Match `json:"matches"`
}

// BuildRequest assembles the scoring request for self against counterparts.
func BuildRequest(self domain.Profile, counterparts []domain.Profile) Request {
	cs := make([]domain.Profile, len(counterparts))
	copy(cs, counterparts)
	return Request{Self: self, Counterparts: cs}
}

// Endpoint returns the scoring path searched by a party of role: a business
// looks for investors, an investor looks for startups.
func Endpoint(role domain.Role) (string, error) {
	switch role {
	case domain.RoleBusiness:
		return "/matchmaking/find-investor-matches/", nil
	case domain.RoleInvestor:
		return "/matchmaking/find-startup-matches/", nil
	default:
		return "", fmt.Errorf("invalid role %q", role)
	}
}
