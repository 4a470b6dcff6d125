package pipeline

import "errors"

var (
	// ErrDispatcherRequired is returned when a service is constructed
	// without a file dispatcher.
	ErrDispatcherRequired = errors.New("dispatcher required")

	// ErrJobStoreRequired is returned when a service is constructed without
	// a job store.
	ErrJobStoreRequired = errors.New("job store required")

	// ErrJobNotRunning is returned when cancelling a job that is not
	// currently executing.
	ErrJobNotRunning = errors.New("job not running")

	// ErrServiceClosed is returned when starting work on a closed service.
	ErrServiceClosed = errors.New("service closed")

	// ErrIndexerNotConfigured is returned when a warehouse operation is
	// requested but the corresponding indexer was not wired in.
	ErrIndexerNotConfigured = errors.New("indexer not configured")
)
