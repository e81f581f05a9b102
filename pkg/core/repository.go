package core

import "context"

// Repository defines the contract for storing and retrieving documents.
// Adhering to this interface allows the core to be independent of the
// underlying storage mechanism (Filesystem, memory, SQL, etc).
type Repository interface {
	// Save persists a document, replacing any previous content (last writer wins).
	Save(ctx context.Context, doc Document) (Document, error)

	// Get retrieves a document by its ID. Missing documents return ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// List returns all documents whose ID starts with prefix.
	List(ctx context.Context, prefix string) ([]Document, error)

	// Delete removes a document by its ID.
	Delete(ctx context.Context, id string) error

	// Initialize ensures the underlying storage is ready (e.g., create directories, git init).
	Initialize(ctx context.Context) error
}

// Conditional is implemented by repositories that support compare-and-swap writes.
type Conditional interface {
	// SaveIf persists doc only if the stored version equals expected.
	// An expected version of zero means the document must not exist yet.
	// On mismatch it returns ErrVersionConflict and writes nothing.
	SaveIf(ctx context.Context, doc Document, expected int64) (Document, error)
}

// Watchable is implemented by repositories that emit change notifications.
type Watchable interface {
	// Watch emits an event for every change to a document whose ID matches
	// the doublestar pattern. The channel is closed when ctx is done.
	Watch(ctx context.Context, pattern string) (<-chan Event, error)
}

// Syncable defines an interface for repositories that support synchronization with a remote.
type Syncable interface {
	// Sync synchronizes the local state with a remote source (e.g. git pull/push).
	Sync(ctx context.Context) error
}

type contextKey string

// ChangeReasonKey is the context key for passing specific change reasons (commit messages) during Save/Delete operations.
const ChangeReasonKey contextKey = "change_reason"

// WithChangeReason returns a context carrying the given change reason.
func WithChangeReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, ChangeReasonKey, reason)
}

// ChangeReason extracts the change reason from ctx, falling back to def.
func ChangeReason(ctx context.Context, def string) string {
	if val, ok := ctx.Value(ChangeReasonKey).(string); ok && val != "" {
		return val
	}
	return def
}
