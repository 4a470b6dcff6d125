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


package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/indexit/core"
)

const (
	// DefaultUpsertBatchSize is the number of points per upsert call.
	DefaultUpsertBatchSize = 500
	// DefaultUpsertRetries is the number of attempts per failed batch.
	DefaultUpsertRetries = 3
	// DefaultUpsertRetryDelay is the linear backoff unit between attempts.
	DefaultUpsertRetryDelay = 500 * time.Millisecond
)

// Ingestor writes vector points into collections. It ensures collections
// exist before writing and upserts in bounded batches, retrying each failed
// batch a small fixed number of times with linear backoff. Batches are
// independent: a batch that exhausts its retries does not block the batches
// queued after it.
type Ingestor struct {
	store      Store
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor) error

// WithUpsertBatchSize sets the number of points per upsert call. Default 500.
func WithUpsertBatchSize(size int) IngestorOption {
	return func(i *Ingestor) error {
		if size < 1 {
			return fmt.Errorf("upsert batch size must be at least 1, got %d", size)
		}
		i.batchSize = size
		return nil
	}
}

// WithUpsertRetry sets the per-batch retry policy. Backoff is linear:
// attempt n sleeps n*delay before retrying.
func WithUpsertRetry(maxAttempts int, delay time.Duration) IngestorOption {
	return func(i *Ingestor) error {
		if maxAttempts <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
		}
		i.maxRetries = maxAttempts
		i.retryDelay = delay
		return nil
	}
}

// WithIngestorLogger sets a custom logger. Default is slog.Default().
func WithIngestorLogger(logger *slog.Logger) IngestorOption {
	return func(i *Ingestor) error {
		if logger != nil {
			i.logger = logger
		}
		return nil
	}
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store Store, opts ...IngestorOption) (*Ingestor, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	i := &Ingestor{
		store:      store,
		batchSize:  DefaultUpsertBatchSize,
		maxRetries: DefaultUpsertRetries,
		retryDelay: DefaultUpsertRetryDelay,
		logger:     slog.Default().With("component", "vector-ingestor"),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// EnsureCollection creates the collection if it does not already exist.
// Idempotent: an existing collection is left untouched.
func (i *Ingestor) EnsureCollection(ctx context.Context, spec core.CollectionSpec) error {
	if err := core.ValidateCollectionSpec(spec); err != nil {
		return err
	}

	exists, err := i.store.CollectionExists(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", spec.Name, err)
	}
	if exists {
		return nil
	}

	if err := i.store.CreateCollection(ctx, spec); err != nil {
		return fmt.Errorf("creating collection %q: %w", spec.Name, err)
	}
	i.logger.Info("created collection", "name", spec.Name, "dimension", spec.Dimension, "metric", spec.Metric)
	return nil
}

// UpsertResult summarizes an UpsertPoints call.
type UpsertResult struct {
	Upserted      int
	FailedBatches []int // indices of batches that exhausted their retries
}

// UpsertPoints writes points into the collection in batches. Every batch is
// attempted even when an earlier one fails; the returned error joins the
// per-batch failures, and the result records which batch indices were lost.
// Cancellation between batches aborts the remaining work.
func (i *Ingestor) UpsertPoints(ctx context.Context, collection string, points []core.VectorPoint) (*UpsertResult, error) {
	if collection == "" {
		return nil, ErrEmptyCollectionName
	}

	result := &UpsertResult{}
	if len(points) == 0 {
		return result, nil
	}

	var failures []error
	batches := (len(points) + i.batchSize - 1) / i.batchSize
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start := b * i.batchSize
		end := start + i.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		if err := i.upsertBatch(ctx, collection, batch); err != nil {
			i.logger.Error("upsert batch failed after retries",
				"collection", collection, "batch", b, "points", len(batch), "err", err)
			result.FailedBatches = append(result.FailedBatches, b)
			failures = append(failures, fmt.Errorf("batch %d: %w", b, err))
			continue
		}
		result.Upserted += len(batch)
	}

	return result, errors.Join(failures...)
}

func (i *Ingestor) upsertBatch(ctx context.Context, collection string, batch []core.VectorPoint) error {
	var lastErr error
	for attempt := 1; attempt <= i.maxRetries; attempt++ {
		lastErr = i.store.Upsert(ctx, collection, batch)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrCollectionNotFound) {
			return lastErr // retrying cannot help
		}
		if attempt == i.maxRetries {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * i.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
