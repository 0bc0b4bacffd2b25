package memory

import "errors"

// Error kinds surfaced by the service. Callers classify with errors.Is;
// wrapped messages carry the detail.
var (
	// ErrValidation marks bad input shape, e.g. a wrong embedding dimension.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidEmbedding marks a zero-norm or malformed embedding vector.
	// It is a validation error.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrNotFound marks an unknown record id. An id owned by another tenant
	// reports the same error, so tenant existence never leaks.
	ErrNotFound = errors.New("memory not found")

	// ErrUnavailable marks an embedding provider or durable store failure,
	// or a service that is in a degraded operational state.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInconsistent marks a detected mismatch between durable state and
	// the in-memory index.
	ErrInconsistent = errors.New("durable store and index are inconsistent")
)
