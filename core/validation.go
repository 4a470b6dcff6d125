package core

import "fmt"

// ValidateJob checks that an IngestionJob is structurally valid.
func ValidateJob(job *IngestionJob) error {
	if job == nil {
		return ErrInvalidJob
	}
	if job.SourceID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptySourceID)
	}
	if job.Kind != JobKindFile && job.Kind != JobKindTable {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrInvalidJobKind)
	}
	if job.ProgressPercent < 0 || job.ProgressPercent > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidJob, job.ProgressPercent)
	}
	return nil
}

// ValidateChunk checks that a TextChunk is structurally valid.
func ValidateChunk(chunk *TextChunk) error {
	if chunk == nil || chunk.Text == "" {
		return ErrEmptyChunkText
	}
	if chunk.Sequence < 0 {
		return fmt.Errorf("chunk sequence %d cannot be negative", chunk.Sequence)
	}
	return nil
}

// ValidateCollectionSpec checks a collection specification.
func ValidateCollectionSpec(spec CollectionSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if spec.Dimension <= 0 {
		return ErrInvalidDimension
	}
	switch spec.Metric {
	case MetricCosine, MetricL2, MetricDot:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMetric, spec.Metric)
	}
}

// ValidatePoint checks a VectorPoint against the collection dimension.
func ValidatePoint(point *VectorPoint, dimension int) error {
	if point == nil {
		return fmt.Errorf("nil point")
	}
	if point.ID == "" {
		return fmt.Errorf("point id cannot be empty")
	}
	if len(point.Vector) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(point.Vector))
	}
	return nil
}
