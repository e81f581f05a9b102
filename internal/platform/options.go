package platform

import (
	"log/slog"

	"github.com/aretw0/dealroom/pkg/adapters/fs"
	"github.com/aretw0/dealroom/pkg/core"
)

// Adapter names accepted by WithAdapter.
const (
	AdapterFS     = "fs"
	AdapterMemory = "memory"
)

// options holds the internal configuration of a document store.
type options struct {
	repository   core.Repository
	logger       *slog.Logger
	adapter      string
	autoInit     bool
	versioning   *bool
	mustExist    bool
	readOnly     bool
	strict       bool
	systemDir    string
	eventBuffer  int
	errorHandler func(error)
	serializers  map[string]fs.Serializer
}

// Option configures how a store is opened.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		adapter:     AdapterFS,
		serializers: make(map[string]fs.Serializer),
	}
}

// WithAutoInit creates the store directory (and git repository) when missing.
func WithAutoInit(auto bool) Option {
	return func(o *options) { o.autoInit = auto }
}

// WithVersioning enables or disables git versioning. When not set it is
// detected from the directory: an existing .git means versioned.
func WithVersioning(enabled bool) Option {
	return func(o *options) { o.versioning = &enabled }
}

// WithMustExist fails when the store directory does not exist.
func WithMustExist(must bool) Option {
	return func(o *options) { o.mustExist = must }
}

// WithReadOnly rejects every write with core.ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return func(o *options) { o.readOnly = enabled }
}

// WithStrict decodes numbers as json.Number to keep large integers exact.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRepository injects a repository, skipping adapter construction.
func WithRepository(repo core.Repository) Option {
	return func(o *options) { o.repository = repo }
}

// WithAdapter selects the storage adapter by name ("fs" or "memory").
func WithAdapter(name string) Option {
	return func(o *options) { o.adapter = name }
}

// WithSystemDir sets the hidden directory name. Defaults to ".dealroom".
func WithSystemDir(name string) Option {
	return func(o *options) { o.systemDir = name }
}

// WithEventBuffer sets the size of the event broker buffer. Zero means 100.
func WithEventBuffer(size int) Option {
	return func(o *options) { o.eventBuffer = size }
}

// WithWatcherErrorHandler receives runtime watcher failures, which are
// otherwise only logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) { o.errorHandler = fn }
}

// WithSerializer registers a serializer for a file extension.
func WithSerializer(ext string, s fs.Serializer) Option {
	return func(o *options) { o.serializers[ext] = s }
}
