// Package domain holds the entities shared by negotiation, the message feed,
// matchmaking and the conversation coordinator.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Role is the side a Party takes in the marketplace.
type Role string

const (
	RoleBusiness Role = "business"
	RoleInvestor Role = "investor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleBusiness || r == RoleInvestor
}

// Counterpart returns the role a party of role r negotiates with.
func (r Role) Counterpart() Role {
	if r == RoleBusiness {
		return RoleInvestor
	}
	return RoleBusiness
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Party is an authenticated participant.
type Party struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

// Conversation links exactly two parties.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]Party  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Has reports whether partyID participates in the conversation.
func (c Conversation) Has(partyID string) bool {
	return c.Participants[0].ID == partyID || c.Participants[1].ID == partyID
}

// Other returns the participant that is not partyID.
func (c Conversation) Other(partyID string) (Party, bool) {
	switch partyID {
	case c.Participants[0].ID:
		return c.Participants[1], true
	case c.Participants[1].ID:
		return c.Participants[0], true
	}
	return Party{}, false
}

// Participant returns the participant with the given id.
func (c Conversation) Participant(partyID string) (Party, bool) {
	for _, p := range c.Participants {
		if p.ID == partyID {
			return p, true
		}
	}
	return Party{}, false
}

// Message is an immutable chat line.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the lifecycle state of a Proposal.
type Status string

const (
	StatusNoProposal Status = "no_proposal"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusWithdrawn  Status = "withdrawn"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusWithdrawn
}

// Term is one negotiable line item.
type Term struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	LastEditedBy string `json:"lastEditedBy,omitempty"`
}

// HistoryEvent records a single transition.
type HistoryEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// History event labels.
const (
	EventCreated     = "Initial Proposal Created"
	EventInitialSent = "Initial Proposal Sent"
	EventCounterSent = "Counter-Proposal Sent"
	EventAccepted    = "Proposal Accepted"
	EventRejected    = "Proposal Rejected"
	EventWithdrawn   = "Proposal Withdrawn"
)

// Proposal is the negotiable deal state of a Conversation.
// The zero value is a conversation without a proposal.
type Proposal struct {
	Status        Status         `json:"status"`
	Terms         []Term         `json:"terms"`
	History       []HistoryEvent `json:"history"`
	LastUpdatedBy string         `json:"lastUpdatedBy,omitempty"`
	// Version is the store version of the snapshot; zero when nothing is stored.
	Version int64 `json:"-"`
}

// NoProposal is the initial state.
func NoProposal() Proposal {
	return Proposal{Status: StatusNoProposal}
}

// Live reports whether a proposal exists.
func (p Proposal) Live() bool {
	return p.Status != "" && p.Status != StatusNoProposal
}

// Clone returns a deep copy.
func (p Proposal) Clone() Proposal {
	p.Terms = slices.Clone(p.Terms)
	p.History = slices.Clone(p.History)
	return p
}

// Match is one scored counterpart returned by the scoring service.
type Match struct {
	CounterpartID string   `json:"counterpartId"`
	Score         float64  `json:"score"`
	Rationale     string   `json:"rationale,omitempty"`
	Strengths     []string `json:"strengths,omitempty"`
	Concerns      []string `json:"concerns,omitempty"`

	// Raw is the match exactly as the scoring service returned it, including
	// fields not declared above. When set it is what MarshalJSON writes.
	Raw json.RawMessage `json:"-"`
}

type matchFields Match

// MarshalJSON writes Raw verbatim when present.
func (m Match) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(matchFields(m))
}

// UnmarshalJSON decodes the declared fields and keeps a copy of the input in Raw.
func (m *Match) UnmarshalJSON(data []byte) error {
	var f matchFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Match(f)
	m.Raw = bytes.Clone(data)
	return nil
}
