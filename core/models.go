// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"time"
)

// JobKind identifies what kind of source an ingestion job processes.
type JobKind int

const (
	// JobKindFile represents ingestion of a file on disk.
	JobKindFile JobKind = iota + 1
	// JobKindTable represents indexing of a warehouse table or schema.
	JobKindTable
)

// String returns the lowercase name of the kind.
func (k JobKind) String() string {
	switch k {
	case JobKindFile:
		return "file"
	case JobKindTable:
		return "table"
	default:
		return "unknown"
	}
}

// JobState represents the lifecycle state of an ingestion job.
// Transitions are one-directional: Pending -> Processing -> Completed | Error.
// Error is terminal and carries the first fatal message encountered.
type JobState int

const (
	// JobPending means the job has been created but not started.
	JobPending JobState = iota + 1
	// JobProcessing means the job is actively being worked on.
	// The current phase is recorded separately as a ProcessingPhase.
	JobProcessing
	// JobCompleted means the job finished. Partial successes complete too,
	// with skipped units enumerated in the job metadata.
	JobCompleted
	// JobError means the job hit a fatal error and will not progress.
	JobError
)

// String returns the lowercase name of the state.
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobProcessing:
		return "processing"
	case JobCompleted:
		return "completed"
	case JobError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobError
	case JobProcessing:
		return next == JobCompleted || next == JobError
	default:
		return false
	}
}

// ProcessingPhase names the stage a processing job is currently in.
type ProcessingPhase string

const (
	PhaseLoading            ProcessingPhase = "loading"
	PhaseExtracting         ProcessingPhase = "extracting"
	PhaseChunking           ProcessingPhase = "chunking"
	PhaseEmbedding          ProcessingPhase = "embedding"
	PhaseEnsuringCollection ProcessingPhase = "ensuring_collection"
	PhaseUpserting          ProcessingPhase = "upserting"
)

// IngestionJob identifies one file or table being processed.
// Jobs are created when ingestion is requested and mutated by the owning
// processor as it advances through states. They are never deleted by the
// pipeline; the metadata store retains them as an audit record.
type IngestionJob struct {
	ID              string
	SourceID        string
	OrganizationID  string
	Kind            JobKind
	State           JobState
	Phase           ProcessingPhase
	ProgressPercent int
	ChunkCount      int
	ErrorMessage    string
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TextChunk is a bounded unit of extracted text prepared for embedding.
// Chunks exist only in flight between extraction and embedding; they are not
// persisted independently.
type TextChunk struct {
	Text      string
	SourceRef SourceRef
	Sequence  int
}

// SourceRef locates a chunk within its source material.
// Exactly one of the locator fields is meaningful for a given source kind.
type SourceRef struct {
	JobID      string
	Offset     int    // character position in plain-text sources
	Sheet      string // sheet name for spreadsheet sources
	Section    string // heading or section path for structured documents
	RowRange   string // "offset-end" for table sources
}

// VectorPoint is the unit written to the vector store.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// DistanceMetric names the similarity function of a collection.
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
	MetricDot    DistanceMetric = "dot"
)

// DefaultDimension is the vector dimension used when none is configured.
const DefaultDimension = 1536

// CollectionSpec describes a named vector space with a fixed dimension and
// distance metric. A collection must exist before any upsert.
type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    DistanceMetric
}

// ColumnMetadata describes a single warehouse table column.
type ColumnMetadata struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	// ForeignKey is "table.column" when this column references another
	// table, or empty when it does not.
	ForeignKey string
}

// TableMetadata describes a warehouse table: its columns, an estimated row
// count and a sample of its rows. Cached keyed by (sourceID, database,
// schema, table) and refreshed when the row count drifts.
type TableMetadata struct {
	SourceID    string
	Database    string
	Schema      string
	Table       string
	Columns     []ColumnMetadata
	RowCount    int64
	SampleRows  []map[string]any
	LastUpdated time.Time
}

// Key returns the cache key for this table's metadata.
func (t *TableMetadata) Key() string {
	return t.SourceID + "/" + t.Database + "/" + t.Schema + "/" + t.Table
}

// PrimaryKeyColumn returns the name of the primary key column, or "" if the
// table has none recorded.
func (t *TableMetadata) PrimaryKeyColumn() string {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// RowChunk is a contiguous row-offset range [Offset, Offset+Size) of one
// table, processed independently. A chunk failure does not invalidate
// sibling chunks.
type RowChunk struct {
	Index  int
	Offset int64
	Size   int64

	// Outcome, populated after processing.
	RowsProcessed int64
	Err           error
}
