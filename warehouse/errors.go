package warehouse

import "errors"

var (
	// ErrClientRequired is returned when a component is constructed without
	// a query client.
	ErrClientRequired = errors.New("warehouse query client required")

	// ErrTableNotFound is returned when a table cannot be described.
	ErrTableNotFound = errors.New("table not found")

	// ErrNoSamplingTier is returned when every sampling strategy was
	// rejected by the warehouse.
	ErrNoSamplingTier = errors.New("all sampling strategies rejected")
)
