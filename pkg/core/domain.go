// Package core holds the document store contract shared by every adapter.
package core

import (
	"fmt"
	"time"
)

// Metadata represents the flexible key-value pairs associated with a document.
type Metadata map[string]any

// Document is the unit of storage.
// The whole document is replaced on every write; Version, CreatedAt and
// UpdatedAt are assigned by the store and ignored on input.
type Document struct {
	ID        string
	Content   string
	Metadata  Metadata
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exists reports whether the document has been persisted at least once.
func (d Document) Exists() bool {
	return d.Version > 0
}

// EventType represents the type of change in the store.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
)

// Event represents a change in the store.
type Event struct {
	Type      EventType
	ID        string
	Version   int64
	Timestamp int64 // Unix nanoseconds
}

// String implements lifecycle.Event.
func (e Event) String() string {
	return fmt.Sprintf("%s %s@%d", e.Type, e.ID, e.Version)
}
