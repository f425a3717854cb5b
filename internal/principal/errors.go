package principal

import "errors"

var (
	// ErrValidation rejects bad input before any external call is made.
	ErrValidation = errors.New("principal: invalid input")
	// ErrConflict marks a duplicate unique name. Not retried automatically;
	// callers must retry with a different identifier.
	ErrConflict = errors.New("principal: already exists")
	// ErrNotFound marks a missing record in a backing system.
	ErrNotFound = errors.New("principal: not found")
	// ErrUnavailable marks a transient backing-system failure, retryable by
	// the caller.
	ErrUnavailable = errors.New("principal: service unavailable")
)
