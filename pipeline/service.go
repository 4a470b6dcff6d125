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


package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/document"
	"github.com/poiesic/indexit/metadata"
	"github.com/poiesic/indexit/warehouse"
)

// DefaultPoolSize bounds how many jobs the service runs concurrently.
const DefaultPoolSize = 8

// Service is the ingestion front door: it creates jobs, runs them
// asynchronously on a worker pool and exposes status and cooperative
// cancellation. Callers get a job id back immediately and poll JobStatus
// for the outcome.
type Service struct {
	dispatcher *document.Dispatcher
	schema     *warehouse.SchemaIndexer
	rows       *warehouse.RowLevelIndexer
	jobs       metadata.JobStore
	pool       *ants.Pool
	sink       Sink
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	running sync.WaitGroup
	closed  bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSchemaIndexer enables schema-level warehouse indexing.
func WithSchemaIndexer(indexer *warehouse.SchemaIndexer) ServiceOption {
	return func(s *Service) { s.schema = indexer }
}

// WithRowIndexer enables row-level warehouse indexing.
func WithRowIndexer(indexer *warehouse.RowLevelIndexer) ServiceOption {
	return func(s *Service) { s.rows = indexer }
}

// WithSink sets the progress sink. Default is NoopSink.
func WithSink(sink Sink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithServiceLogger sets a custom logger. Default is slog.Default().
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires a service over its collaborators. poolSize bounds
// concurrent jobs; non-positive uses DefaultPoolSize.
func NewService(dispatcher *document.Dispatcher, jobs metadata.JobStore, poolSize int, opts ...ServiceOption) (*Service, error) {
	if dispatcher == nil {
		return nil, ErrDispatcherRequired
	}
	if jobs == nil {
		return nil, ErrJobStoreRequired
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	s := &Service{
		dispatcher: dispatcher,
		jobs:       jobs,
		pool:       pool,
		sink:       NoopSink{},
		cancels:    make(map[string]context.CancelFunc),
		logger:     slog.Default().With("component", "pipeline-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProgressFunc bridges the service's sink into the document dispatcher.
func (s *Service) ProgressFunc() document.ProgressFunc {
	return func(jobID string, state core.JobState, percent int, message string) {
		s.sink.JobProgress(jobID, state, percent, message)
	}
}

// StartFileIngestion creates a file ingestion job and schedules it.
// The returned job id can be polled with JobStatus and cancelled with
// CancelJob while the job is running.
func (s *Service) StartFileIngestion(ctx context.Context, path, sourceID, organizationID string) (string, error) {
	job := newJob(sourceID, organizationID, core.JobKindFile)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	err := s.launch(job.ID, func(runCtx context.Context) {
		if err := s.dispatcher.Process(runCtx, job.ID, path); err != nil {
			s.logger.Error("file ingestion failed", "jobId", job.ID, "path", path, "err", err)
		}
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// StartSchemaIndexing creates a table job covering a whole warehouse schema
// and schedules it.
func (s *Service) StartSchemaIndexing(ctx context.Context, sourceID, database, schema string) (string, error) {
	if s.schema == nil {
		return "", ErrIndexerNotConfigured
	}

	job := newJob(sourceID, "", core.JobKindTable)
	job.Metadata = map[string]string{"database": database, "schema": schema}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	err := s.launch(job.ID, func(runCtx context.Context) {
		s.markProcessing(runCtx, job.ID, core.PhaseEmbedding)
		stats, err := s.schema.IndexSchema(runCtx, sourceID, database, schema)
		if err != nil {
			s.finishJob(job.ID, err, nil, 0)
			return
		}
		extra := map[string]string{
			"tables":        strconv.Itoa(stats.Tables),
			"tables_failed": strconv.Itoa(stats.TablesFailed),
			"relationships": strconv.Itoa(stats.Relationships),
		}
		if len(stats.ZeroFilled) > 0 {
			extra["zero_filled_descriptions"] = strings.Join(stats.ZeroFilled, ",")
		}
		s.finishJob(job.ID, nil, extra, stats.PointsWritten)
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// StartRowIndexing creates a table job for full row-level indexing of one
// table and schedules it. Partial coverage still completes, with the skipped
// chunks recorded in the job metadata.
func (s *Service) StartRowIndexing(ctx context.Context, meta *core.TableMetadata) (string, error) {
	if s.rows == nil {
		return "", ErrIndexerNotConfigured
	}

	job := newJob(meta.SourceID, "", core.JobKindTable)
	job.Metadata = map[string]string{
		"database": meta.Database,
		"schema":   meta.Schema,
		"table":    meta.Table,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	err := s.launch(job.ID, func(runCtx context.Context) {
		s.markProcessing(runCtx, job.ID, core.PhaseEmbedding)
		stats, err := s.rows.IndexTable(runCtx, meta)
		if err != nil {
			s.finishJob(job.ID, err, nil, 0)
			return
		}
		extra := map[string]string{
			"rows_total":     strconv.FormatInt(stats.TotalRows, 10),
			"rows_processed": strconv.FormatInt(stats.RowsProcessed, 10),
		}
		if len(stats.ChunksFailed) > 0 {
			extra["skipped_chunks"] = joinInts(stats.ChunksFailed)
		}
		if len(stats.ZeroFilled) > 0 {
			extra["zero_filled_rows"] = strings.Join(stats.ZeroFilled, ",")
		}
		s.finishJob(job.ID, nil, extra, int(stats.RowsProcessed))
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// JobStatus returns the current job record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// CancelJob cancels a running job's context. Cancellation is cooperative:
// the job stops at its next checkpoint. Returns ErrJobNotRunning when the
// job is not currently executing.
func (s *Service) CancelJob(jobID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

// Close cancels running jobs, waits for them to stop and releases the pool.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	s.running.Wait()
	s.pool.Release()
	return nil
}

// launch schedules run on the pool with a cancellable per-job context.
func (s *Service) launch(jobID string, run func(ctx context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancels[jobID] = cancel
	s.running.Add(1)
	s.mu.Unlock()

	err := s.pool.Submit(func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, jobID)
			s.mu.Unlock()
			cancel()
			s.running.Done()
		}()
		run(runCtx)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
		cancel()
		s.running.Done()
		return fmt.Errorf("scheduling job %s: %w", jobID, err)
	}
	return nil
}

// markProcessing moves a job into the processing state. The warehouse
// indexers track their own progress, so the job carries a single phase.
func (s *Service) markProcessing(ctx context.Context, jobID string, phase core.ProcessingPhase) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("job lookup failed", "jobId", jobID, "err", err)
		return
	}
	job.State = core.JobProcessing
	job.Phase = phase
	job.ProgressPercent = 10
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error("job update failed", "jobId", jobID, "err", err)
		return
	}
	s.sink.JobProgress(jobID, job.State, job.ProgressPercent, string(phase))
}

// finishJob records a table job's terminal state. The background context
// keeps the bookkeeping write possible after the job context is cancelled.
func (s *Service) finishJob(jobID string, cause error, extra map[string]string, chunkCount int) {
	ctx, cancelWrite := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelWrite()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("job lookup failed", "jobId", jobID, "err", err)
		return
	}

	if cause != nil {
		job.State = core.JobError
		job.ErrorMessage = cause.Error()
	} else {
		job.State = core.JobCompleted
		job.Phase = ""
		job.ProgressPercent = 100
		job.ChunkCount = chunkCount
		for k, v := range extra {
			if job.Metadata == nil {
				job.Metadata = make(map[string]string)
			}
			job.Metadata[k] = v
		}
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error("job update failed", "jobId", jobID, "err", err)
		return
	}

	message := "completed"
	if cause != nil {
		message = cause.Error()
	}
	s.sink.JobProgress(jobID, job.State, job.ProgressPercent, message)
}

func newJob(sourceID, organizationID string, kind core.JobKind) *core.IngestionJob {
	now := time.Now().UTC()
	return &core.IngestionJob{
		ID:             uuid.NewString(),
		SourceID:       sourceID,
		OrganizationID: organizationID,
		Kind:           kind,
		State:          core.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
