package gateway

import (
	"errors"
	"net/http"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/identity"
)

var (
	errMatchmakingDisabled = errors.New("matchmaking is not configured")
	errForeignRole         = errors.New("matches can only be searched as the caller's own role")
)

// searchRole returns the caller's role. The role parameter may only restate it.
func searchRole(r *http.Request, id identity.Identity) (domain.Role, error) {
	if v := r.URL.Query().Get("role"); v != "" {
		role, err := domain.ParseRole(v)
		if err != nil {
			return "", err
		}
		if role != id.Party.Role {
			return "", errForeignRole
		}
	}
	return id.Party.Role, nil
}

func (s *Server) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.matchesRequest(w, r)
	if !ok {
		return
	}
	entry, err := s.finder.FindMatches(r.Context(), id.Profile, role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearMatches(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.matchesRequest(w, r)
	if !ok {
		return
	}
	if err := s.finder.ClearCache(r.Context(), id.Profile, role); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) matchesRequest(w http.ResponseWriter, r *http.Request) (identity.Identity, domain.Role, bool) {
	if s.finder == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Kind: "unavailable", Message: errMatchmakingDisabled.Error()})
		return identity.Identity{}, "", false
	}
	id, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return identity.Identity{}, "", false
	}
	role, err := searchRole(r, id)
	if errors.Is(err, errForeignRole) {
		writeJSON(w, http.StatusForbidden, errorBody{Kind: "forbidden", Message: err.Error()})
		return identity.Identity{}, "", false
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: err.Error()})
		return identity.Identity{}, "", false
	}
	return id, role, true
}
