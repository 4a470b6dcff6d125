package vectorstore

import (
	"context"

	"github.com/poiesic/indexit/core"
)

// Store is the narrow contract against the vector database.
// Implementations must be safe for concurrent use.
type Store interface {
	// CollectionExists reports whether a collection with the given name exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection with the spec's dimension and
	// metric. Creating an existing collection must not destroy it; if the
	// existing collection's dimension differs from the spec, an error is
	// returned instead.
	CreateCollection(ctx context.Context, spec core.CollectionSpec) error

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Upsert writes points into a collection, replacing any point with the
	// same ID. Returns ErrCollectionNotFound if the collection does not exist.
	Upsert(ctx context.Context, collection string, points []core.VectorPoint) error

	// Search returns up to limit points nearest to the query vector, best
	// first. A non-nil filter restricts results to points whose payload
	// contains all the given key/value pairs.
	Search(ctx context.Context, collection string, vector []float32, filter map[string]any, limit int) ([]ScoredPoint, error)

	// DeleteCollection removes a collection and all its points.
	// Deleting a collection that does not exist is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Close releases the underlying connection resources.
	Close() error
}

// ScoredPoint is a search hit: a stored point plus its similarity score.
// Higher scores are better regardless of the collection's distance metric.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// IdentityLookup resolves alternate source identifiers against the
// relational metadata store. Upstream systems mint multiple identifiers for
// the same logical source over time; these lookups let the resolver bridge
// the drift.
type IdentityLookup interface {
	// LookupAlternateID maps an alternate identifier to the canonical source
	// id. Returns an empty string with no error when no mapping exists.
	LookupAlternateID(ctx context.Context, alternateID string) (string, error)

	// SourceMetadata returns the stored metadata record for a source id, or
	// nil with no error when the source is unknown.
	SourceMetadata(ctx context.Context, sourceID string) (map[string]string, error)
}
