package vectorstore

import "errors"

var (
	// ErrStoreRequired is returned when a component is constructed without a
	// vector store.
	ErrStoreRequired = errors.New("vector store required")

	// ErrCollectionNotFound is returned when an operation targets a
	// collection that does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrEmptyCollectionName is returned when a collection name is empty.
	ErrEmptyCollectionName = errors.New("collection name must not be empty")

	// ErrInvalidLimit is returned when a search limit below 1 is requested.
	ErrInvalidLimit = errors.New("limit must be at least 1")
)
