package document

import "errors"

var (
	// ErrUnsupportedKind is returned when a file extension has no registered
	// extractor.
	ErrUnsupportedKind = errors.New("unsupported file kind")

	// ErrNoText is returned when every extraction strategy yields empty
	// text. Distinct from a blank-but-readable document, which succeeds
	// with zero chunks.
	ErrNoText = errors.New("no text could be extracted")

	// ErrNilJob is returned when processing is requested without a job.
	ErrNilJob = errors.New("job required")
)
