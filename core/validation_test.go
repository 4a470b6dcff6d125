package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateJob(t *testing.T) {
	valid := &IngestionJob{SourceID: "42", Kind: JobKindFile, State: JobPending}
	require.NoError(t, ValidateJob(valid))

	assert.ErrorIs(t, ValidateJob(nil), ErrInvalidJob)
	assert.ErrorIs(t, ValidateJob(&IngestionJob{Kind: JobKindFile}), ErrEmptySourceID)
	assert.ErrorIs(t, ValidateJob(&IngestionJob{SourceID: "42"}), ErrInvalidJobKind)

	outOfRange := &IngestionJob{SourceID: "42", Kind: JobKindTable, ProgressPercent: 101}
	assert.ErrorIs(t, ValidateJob(outOfRange), ErrInvalidJob)
}

func TestValidateChunk(t *testing.T) {
	require.NoError(t, ValidateChunk(&TextChunk{Text: "hello", Sequence: 0}))
	assert.ErrorIs(t, ValidateChunk(nil), ErrEmptyChunkText)
	assert.ErrorIs(t, ValidateChunk(&TextChunk{}), ErrEmptyChunkText)
	assert.Error(t, ValidateChunk(&TextChunk{Text: "x", Sequence: -1}))
}

func TestValidateCollectionSpec(t *testing.T) {
	require.NoError(t, ValidateCollectionSpec(CollectionSpec{Name: "datasource_42", Dimension: 1536, Metric: MetricCosine}))
	assert.Error(t, ValidateCollectionSpec(CollectionSpec{Dimension: 1536, Metric: MetricCosine}))
	assert.ErrorIs(t, ValidateCollectionSpec(CollectionSpec{Name: "c", Metric: MetricCosine}), ErrInvalidDimension)
	assert.ErrorIs(t, ValidateCollectionSpec(CollectionSpec{Name: "c", Dimension: 3, Metric: "hamming"}), ErrInvalidMetric)
}

func TestValidatePoint(t *testing.T) {
	point := &VectorPoint{ID: "p1", Vector: make([]float32, 4)}
	require.NoError(t, ValidatePoint(point, 4))
	assert.ErrorIs(t, ValidatePoint(point, 8), ErrDimensionMismatch)
	assert.Error(t, ValidatePoint(&VectorPoint{Vector: make([]float32, 4)}, 4), "empty id rejected")
	assert.Error(t, ValidatePoint(nil, 4))
}
