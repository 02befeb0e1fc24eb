package vector

import "errors"

// Error kinds returned by stores. They are always wrapped with call-site context;
// match them with errors.Is.
var (
	// ErrInvalidArgument reports a caller error: negative k, mismatched metadata
	// length, wrong vector dimension or an unknown backend.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotLoaded is returned by AddTexts and Search before Load has succeeded.
	ErrNotLoaded = errors.New("store not loaded")
	// ErrCorruptIndex means the persisted index is unreadable or was built with a
	// different embedding model or dimension.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrPersistence means a mutation could not be made durable; in-memory state
	// was rolled back.
	ErrPersistence = errors.New("persistence failed")
	// ErrServiceUnreachable covers transport failures, timeouts, 5xx responses
	// and an open circuit breaker.
	ErrServiceUnreachable = errors.New("vector service unreachable")
	// ErrServiceRejected means the remote service refused the request (4xx) or
	// its collection is incompatible.
	ErrServiceRejected = errors.New("vector service rejected request")
)
