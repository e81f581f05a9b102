package core

import "errors"

// Common errors.
var (
	ErrReadOnly        = errors.New("repository is in read-only mode")
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrUnsupported     = errors.New("operation not supported by repository")
)
