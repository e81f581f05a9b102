// Package directory lists the party profiles available to matchmaking.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/typed"
)

// Directory enumerates profiles by role.
type Directory interface {
	ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error)
}

// ProfileID returns the document ID of a profile.
func ProfileID(role domain.Role, id string) string {
	return "profiles/" + string(role) + "/" + id
}

// Store keeps profiles as documents in the document store.
type Store struct {
	docs *typed.Service[domain.Profile]
}

// NewStore creates a directory backed by store.
func NewStore(store *core.Service) *Store {
	return &Store{docs: typed.NewService[domain.Profile](store)}
}

// Put creates or replaces a profile.
func (s *Store) Put(ctx context.Context, p domain.Profile) error {
	if !p.Role.Valid() {
		return fmt.Errorf("profile %q: invalid role %q", p.ID, p.Role)
	}
	if strings.TrimSpace(p.ID) == "" || strings.Contains(p.ID, "/") {
		return fmt.Errorf("invalid profile id %q", p.ID)
	}
	ctx = core.WithChangeReason(ctx, core.FormatChangeReason("profile", p.ID, "updated", "role: "+string(p.Role)))
	if _, err := s.docs.Save(ctx, ProfileID(p.Role, p.ID), p.Brief, p); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// Get returns a single profile. It wraps core.ErrNotFound when missing.
func (s *Store) Get(ctx context.Context, role domain.Role, id string) (domain.Profile, error) {
	m, err := s.docs.Get(ctx, ProfileID(role, id))
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile %s: %w", id, err)
	}
	return m.Data, nil
}

// ListByRole returns every profile of role, ordered by creation.
func (s *Store) ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	list, err := s.docs.List(ctx, "profiles/"+string(role)+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s profiles: %w", role, err)
	}
	out := make([]domain.Profile, 0, len(list))
	for _, m := range list {
		out = append(out, m.Data)
	}
	return out, nil
}

// IsNotFound reports whether err means the profile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
