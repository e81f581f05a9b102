// Package feed implements the append-only message log of a conversation.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/lifecycle"
	"github.com/oklog/ulid/v2"

	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/metrics"
	"github.com/aretw0/dealroom/pkg/typed"
)

// MaxContentLength is the longest message accepted, in runes.
const MaxContentLength = 4000

const opPost = "post"

// MessagesPrefix returns the collection prefix holding a conversation's messages.
func MessagesPrefix(conversationID string) string {
	return "conversations/" + conversationID + "/messages/"
}

type messageRecord struct {
	SenderID string `json:"senderId"`
}

// Feed appends and reads conversation messages.
type Feed struct {
	docs   *typed.Service[messageRecord]
	logger *slog.Logger
	newID  func() string
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a feed on top of a document store.
func New(store *core.Service, opts ...Option) *Feed {
	f := &Feed{
		docs:   typed.NewService[messageRecord](store),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Post appends a message. The timestamp is assigned by the store.
func (f *Feed) Post(ctx context.Context, conv domain.Conversation, sender domain.Party, content string) (domain.Message, error) {
	if !conv.Has(sender.ID) {
		return domain.Message{}, domain.InvalidTransition(opPost, domain.RuleNotParticipant)
	}
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return domain.Message{}, domain.InvalidTransition(opPost, domain.RuleInvalidMessage)
	}

	id := MessagesPrefix(conv.ID) + f.newID()
	reason := core.FormatChangeReason("message", conv.ID, "posted by "+sender.ID, "")
	m, err := f.docs.SaveIf(core.WithChangeReason(ctx, reason), id, content, messageRecord{SenderID: sender.ID}, 0)
	if err != nil {
		return domain.Message{}, &domain.StoreWriteError{ID: id, Err: err}
	}

	metrics.MessagePosted()
	f.logger.Debug("message posted", "conversation", conv.ID, "sender", sender.ID, "id", m.ID)
	return toMessage(conv.ID, m), nil
}

// Messages returns the full sequence ordered by timestamp.
func (f *Feed) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	list, err := f.docs.List(ctx, MessagesPrefix(conversationID))
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	return toMessages(conversationID, list), nil
}

// Subscribe streams the full ordered sequence every time it changes.
func (f *Feed) Subscribe(ctx context.Context, conversationID string) (<-chan []domain.Message, error) {
	in, err := f.docs.SubscribeList(ctx, MessagesPrefix(conversationID))
	if err != nil {
		return nil, err
	}
	out := make(chan []domain.Message, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for list := range in {
			select {
			case out <- toMessages(conversationID, list):
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	return out, nil
}

func toMessages(conversationID string, list []*typed.DocumentModel[messageRecord]) []domain.Message {
	out := make([]domain.Message, 0, len(list))
	for _, m := range list {
		out = append(out, toMessage(conversationID, m))
	}
	return out
}

func toMessage(conversationID string, m *typed.DocumentModel[messageRecord]) domain.Message {
	return domain.Message{
		ID:        strings.TrimPrefix(m.ID, MessagesPrefix(conversationID)),
		SenderID:  m.Data.SenderID,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}
