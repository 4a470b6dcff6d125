package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidMaxAttempts is returned when retry is configured with a
	// non-positive attempt count.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrInvalidBatchSize is returned when a batch size below 1 is configured.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")

	// ErrCountMismatch is returned when the provider returns a different
	// number of vectors than texts submitted. The result is never truncated
	// or padded to fit.
	ErrCountMismatch = errors.New("embedding count mismatch")
)
