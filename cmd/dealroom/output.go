package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/dealroom"
	"github.com/aretw0/dealroom/pkg/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// participant loads conversation convID and the participant partyID in it.
func participant(ctx context.Context, app *dealroom.App, convID, partyID string) (domain.Conversation, domain.Party, error) {
	conv, err := app.Conversations.Get(ctx, convID)
	if err != nil {
		return domain.Conversation{}, domain.Party{}, err
	}
	p, ok := conv.Participant(partyID)
	if !ok {
		return domain.Conversation{}, domain.Party{}, fmt.Errorf("%s does not participate in conversation %s", partyID, convID)
	}
	return conv, p, nil
}

// parseTerms applies "Key=Value" pairs to base. Known keys keep their term
// id; unknown keys are appended.
func parseTerms(base []domain.Term, pairs []string) ([]domain.Term, error) {
	out := make([]domain.Term, len(base))
	copy(out, base)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("term %q: want Key=Value", pair)
		}
		found := false
		for i := range out {
			if out[i].Key == key {
				out[i].Value = value
				found = true
				break
			}
		}
		if !found {
			out = append(out, domain.Term{Key: key, Value: value})
		}
	}
	return out, nil
}

func printProposal(w io.Writer, p domain.Proposal) {
	fmt.Fprintf(w, "status:  %s\n", p.Status)
	fmt.Fprintf(w, "version: %d\n", p.Version)
	if !p.Live() {
		return
	}
	fmt.Fprintf(w, "last updated by: %s\n", p.LastUpdatedBy)
	fmt.Fprintln(w, "terms:")
	for _, t := range p.Terms {
		fmt.Fprintf(w, "  %s = %s (%s)\n", t.Key, t.Value, t.LastEditedBy)
	}
	fmt.Fprintln(w, "history:")
	for _, h := range p.History {
		fmt.Fprintf(w, "  %s  %s by %s\n", h.Timestamp.Format("2006-01-02 15:04:05"), h.Event, h.Actor)
	}
}

func printMessage(w io.Writer, m domain.Message) {
	fmt.Fprintf(w, "%s  %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.SenderID, m.Content)
}
