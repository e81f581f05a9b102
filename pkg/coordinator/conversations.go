package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/typed"
)

// ErrConversationExists is returned by Create for a taken id.
var ErrConversationExists = errors.New("conversation already exists")

// MetaID returns the document ID of a conversation's metadata.
func MetaID(conversationID string) string {
	return "conversations/" + conversationID + "/meta"
}

type conversationRecord struct {
	Participants [2]domain.Party `json:"participants"`
}

// Conversations stores conversation metadata.
type Conversations struct {
	docs *typed.Service[conversationRecord]
}

// NewConversations creates a conversation store on top of a document store.
func NewConversations(store *core.Service) *Conversations {
	return &Conversations{docs: typed.NewService[conversationRecord](store)}
}

// Create registers a conversation between a business and an investor.
// An empty id is replaced by a fresh ULID.
func (c *Conversations) Create(ctx context.Context, id string, a, b domain.Party) (domain.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = strings.ToLower(ulid.Make().String())
	}
	if strings.Contains(id, "/") {
		return domain.Conversation{}, fmt.Errorf("invalid conversation id %q", id)
	}
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return domain.Conversation{}, errors.New("a conversation needs two distinct parties")
	}
	if !a.Role.Valid() || !b.Role.Valid() || a.Role == b.Role {
		return domain.Conversation{}, errors.New("a conversation needs one business and one investor")
	}

	ctx = core.WithChangeReason(ctx, core.FormatChangeReason("conversation", id, "created", ""))
	m, err := c.docs.SaveIf(ctx, MetaID(id), "", conversationRecord{Participants: [2]domain.Party{a, b}}, 0)
	if errors.Is(err, core.ErrVersionConflict) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", ErrConversationExists, id)
	}
	if err != nil {
		return domain.Conversation{}, &domain.StoreWriteError{ID: MetaID(id), Err: err}
	}
	return toConversation(id, m), nil
}

// Get loads a conversation. It wraps core.ErrNotFound when missing.
func (c *Conversations) Get(ctx context.Context, id string) (domain.Conversation, error) {
	m, err := c.docs.Get(ctx, MetaID(id))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return toConversation(id, m), nil
}

func toConversation(id string, m *typed.DocumentModel[conversationRecord]) domain.Conversation {
	return domain.Conversation{ID: id, Participants: m.Data.Participants, CreatedAt: m.CreatedAt}
}
