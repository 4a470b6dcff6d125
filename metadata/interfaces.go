package metadata

import (
	"context"

	"github.com/poiesic/indexit/core"
)

// JobStore persists ingestion jobs and the identifier mappings around them.
// Implementations must be safe for concurrent use.
type JobStore interface {
	// CreateJob persists a new job. The job must validate and its ID must
	// not already exist.
	CreateJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrJobNotFound if no such job exists.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// UpdateJob persists the job's current state. Illegal state transitions
	// (per core.JobState.CanTransitionTo) are rejected with
	// core.ErrInvalidTransition; updates within the same state are allowed
	// so progress and phase can advance.
	UpdateJob(ctx context.Context, job *core.IngestionJob) error

	// ListJobsBySource returns all jobs for a source id, newest first.
	ListJobsBySource(ctx context.Context, sourceID string) ([]*core.IngestionJob, error)

	// LookupAlternateID maps an alternate identifier to the canonical source
	// id. Returns an empty string with no error when no mapping exists.
	LookupAlternateID(ctx context.Context, alternateID string) (string, error)

	// PutAlternateID records an alternate identifier for a source.
	PutAlternateID(ctx context.Context, alternateID, sourceID string) error

	// SourceMetadata returns the stored metadata record for a source id, or
	// nil with no error when the source is unknown.
	SourceMetadata(ctx context.Context, sourceID string) (map[string]string, error)

	// PutSourceMetadata stores or replaces a source's metadata record.
	PutSourceMetadata(ctx context.Context, sourceID string, meta map[string]string) error

	// Close releases the underlying resources.
	Close() error
}
