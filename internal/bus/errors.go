package bus

import "errors"

// Sentinel errors for the Bus's request/response path. Use errors.Is to
// check for these; they carry no payload beyond identity.
var (
	// ErrNoHandler is returned by Request when no subscription matches
	// the task's action.
	ErrNoHandler = errors.New("bus: no handler matches action")

	// ErrAmbiguousHandler is returned by Request when more than one
	// subscription matches with equal specificity.
	ErrAmbiguousHandler = errors.New("bus: ambiguous handler match")

	// ErrTimeout is returned by Request when the deadline elapses before
	// the handler replies.
	ErrTimeout = errors.New("bus: request timed out")

	// ErrCancelled is returned when the caller's context is cancelled
	// before a request completes.
	ErrCancelled = errors.New("bus: request cancelled")

	// ErrClosed is returned by Subscribe/Request/Send/Publish once the
	// Bus has been closed.
	ErrClosed = errors.New("bus: closed")
)
