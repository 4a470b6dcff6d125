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


package document

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/indexit/chunker"
	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/metadata"
	"github.com/poiesic/indexit/vectorstore"
)

// ProgressFunc receives job progress updates. Implementations must not
// block; the dispatcher fires and forgets.
type ProgressFunc func(jobID string, state core.JobState, percent int, message string)

// Dispatcher drives one file through the full pipeline: extractor selection
// by file kind, chunking, embedding, collection resolution and upsert,
// advancing the job's state machine at each phase.
type Dispatcher struct {
	registry     *Registry
	orchestrator *embedding.Orchestrator
	resolver     *vectorstore.Resolver
	ingestor     *vectorstore.Ingestor
	jobs         metadata.JobStore
	chunkOpts    chunker.Options
	progress     ProgressFunc
	dimension    int
	metric       core.DistanceMetric
	logger       *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChunkOptions overrides the chunking configuration.
func WithChunkOptions(opts chunker.Options) DispatcherOption {
	return func(d *Dispatcher) { d.chunkOpts = opts }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) DispatcherOption {
	return func(d *Dispatcher) { d.progress = fn }
}

// WithCollectionDefaults sets the dimension and metric used when a
// collection has to be created.
func WithCollectionDefaults(dimension int, metric core.DistanceMetric) DispatcherOption {
	return func(d *Dispatcher) {
		d.dimension = dimension
		d.metric = metric
	}
}

// WithDispatcherLogger sets a custom logger. Default is slog.Default().
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(
	registry *Registry,
	orchestrator *embedding.Orchestrator,
	resolver *vectorstore.Resolver,
	ingestor *vectorstore.Ingestor,
	jobs metadata.JobStore,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("extractor registry required")
	}
	if orchestrator == nil {
		return nil, embedding.ErrEmbedderRequired
	}
	if resolver == nil || ingestor == nil {
		return nil, vectorstore.ErrStoreRequired
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store required")
	}

	d := &Dispatcher{
		registry:     registry,
		orchestrator: orchestrator,
		resolver:     resolver,
		ingestor:     ingestor,
		jobs:         jobs,
		chunkOpts:    chunker.DefaultOptions(),
		dimension:    core.DefaultDimension,
		metric:       core.MetricCosine,
		logger:       slog.Default().With("component", "document-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Process runs the job through extraction, chunking, embedding and upsert.
// The job ends in Completed or Error; the returned error mirrors the Error
// state for callers that run Process synchronously.
func (d *Dispatcher) Process(ctx context.Context, jobID, path string) error {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	kind, err := KindFromPath(path)
	if err != nil {
		return d.fail(ctx, job, err)
	}
	extractor, err := d.registry.For(kind)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	if err := d.advance(ctx, job, core.PhaseLoading, 5); err != nil {
		return err
	}
	if err := d.advance(ctx, job, core.PhaseExtracting, 15); err != nil {
		return err
	}
	extraction, err := extractor.Extract(ctx, path)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	if err := d.advance(ctx, job, core.PhaseChunking, 30); err != nil {
		return err
	}
	chunks := extraction.Chunks
	if len(chunks) == 0 && extraction.Text != "" {
		chunks = chunker.Chunk(extraction.Text, d.chunkOpts)
	}
	for i := range chunks {
		chunks[i].SourceRef.JobID = job.ID
	}

	// A blank-but-readable document completes with zero chunks; that is
	// not an extraction failure.
	if len(chunks) == 0 {
		return d.complete(ctx, job, 0)
	}

	if err := d.advance(ctx, job, core.PhaseEmbedding, 50); err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embedded, err := d.orchestrator.EmbedAll(ctx, texts)
	if err != nil {
		return d.fail(ctx, job, err)
	}
	if embedded.Partial {
		job.Metadata = setMeta(job.Metadata, "embedding_failed_batches", failureRanges(embedded.Failed))
	}

	if err := d.advance(ctx, job, core.PhaseEnsuringCollection, 75); err != nil {
		return err
	}
	collection, found, err := d.resolver.Resolve(ctx, job.SourceID)
	if err != nil {
		return d.fail(ctx, job, err)
	}
	if !found {
		collection = vectorstore.DeriveName(job.SourceID)
	}
	spec := core.CollectionSpec{Name: collection, Dimension: d.dimension, Metric: d.metric}
	if err := d.ingestor.EnsureCollection(ctx, spec); err != nil {
		return d.fail(ctx, job, err)
	}

	if err := d.advance(ctx, job, core.PhaseUpserting, 85); err != nil {
		return err
	}
	points := d.buildPoints(job, chunks, embedded.Vectors)
	result, err := d.ingestor.UpsertPoints(ctx, collection, points)
	if err != nil {
		if result == nil || result.Upserted == 0 {
			return d.fail(ctx, job, err)
		}
		// Partial coverage: some batches landed, the rest are recorded on
		// the job so the loss is observable.
		d.logger.Error("upsert lost batches", "job", job.ID, "lost", len(result.FailedBatches), "err", err)
		job.Metadata = setMeta(job.Metadata, "upsert_failed_batches", joinIndices(result.FailedBatches))
	}

	return d.complete(ctx, job, len(chunks))
}

func (d *Dispatcher) buildPoints(job *core.IngestionJob, chunks []core.TextChunk, vectors [][]float32) []core.VectorPoint {
	points := make([]core.VectorPoint, len(chunks))
	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		payload := map[string]any{
			"text":        c.Text,
			"sourceId":    job.SourceID,
			"sequence":    c.Sequence,
			"processedAt": now,
		}
		if c.SourceRef.Sheet != "" {
			payload["sheet"] = c.SourceRef.Sheet
		}
		if c.SourceRef.RowRange != "" {
			payload["rowRange"] = c.SourceRef.RowRange
		}
		if c.SourceRef.Section != "" {
			payload["section"] = c.SourceRef.Section
		}
		points[i] = core.VectorPoint{
			ID:      core.PointIDForChunk(job.SourceID, c.Sequence),
			Vector:  vectors[i],
			Payload: payload,
		}
	}
	return points
}

// advance moves the job into Processing at the given phase and progress.
func (d *Dispatcher) advance(ctx context.Context, job *core.IngestionJob, phase core.ProcessingPhase, percent int) error {
	job.State = core.JobProcessing
	job.Phase = phase
	job.ProgressPercent = percent
	if err := d.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}
	d.emit(job, string(phase))
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, job *core.IngestionJob, chunkCount int) error {
	job.State = core.JobCompleted
	job.Phase = ""
	job.ProgressPercent = 100
	job.ChunkCount = chunkCount
	if err := d.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}
	d.emit(job, "completed")
	d.logger.Info("job completed", "job", job.ID, "source", job.SourceID, "chunks", chunkCount)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, job *core.IngestionJob, cause error) error {
	job.State = core.JobError
	job.ErrorMessage = cause.Error()
	if err := d.jobs.UpdateJob(ctx, job); err != nil {
		d.logger.Error("recording job failure failed", "job", job.ID, "err", err)
	}
	d.emit(job, cause.Error())
	d.logger.Error("job failed", "job", job.ID, "source", job.SourceID, "err", cause)
	return fmt.Errorf("job %s: %w", job.ID, cause)
}

func (d *Dispatcher) emit(job *core.IngestionJob, message string) {
	if d.progress == nil {
		return
	}
	d.progress(job.ID, job.State, job.ProgressPercent, message)
}

func setMeta(meta map[string]string, key, value string) map[string]string {
	if meta == nil {
		meta = make(map[string]string)
	}
	meta[key] = value
	return meta
}

// failureRanges renders failed embedding batches as "start-end" chunk index
// ranges (end exclusive), comma separated.
func failureRanges(failed []embedding.BatchFailure) string {
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = fmt.Sprintf("%d-%d", f.Start, f.End)
	}
	return strings.Join(parts, ",")
}

func joinIndices(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
