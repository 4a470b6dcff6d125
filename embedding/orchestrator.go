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


package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/indexit/ai"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of texts sent per provider call.
	DefaultBatchSize = 100
	// DefaultMaxRetries is the number of attempts for a rate-limited batch.
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelay is the base delay for exponential backoff.
	DefaultRetryBaseDelay = 1 * time.Second
)

// Orchestrator turns a list of texts into a list of vectors via an embedding
// provider, in size-bounded batches. One provider call embeds a whole batch;
// batching is the primary latency and cost lever. Batches are issued
// sequentially to respect provider rate limits.
type Orchestrator struct {
	embedder       ai.Embedder
	batchSize      int
	maxRetries     int
	retryBaseDelay time.Duration
	dimension      int
	zeroFill       bool
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithBatchSize sets the number of texts per provider call. Default 100.
func WithBatchSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			return ErrInvalidBatchSize
		}
		o.batchSize = size
		return nil
	}
}

// WithRetry sets the retry policy for rate-limited batches.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		o.maxRetries = maxAttempts
		o.retryBaseDelay = baseDelay
		return nil
	}
}

// WithRateLimit throttles provider calls to at most callsPerSecond, with the
// given burst. A zero callsPerSecond disables throttling.
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(o *Orchestrator) error {
		if callsPerSecond <= 0 {
			o.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
		return nil
	}
}

// WithZeroFill controls the failed-batch policy. When enabled (the default),
// a batch that still fails after retries is replaced with zero-vectors of
// the configured dimension, the failure is recorded on the Result and the
// remaining batches continue. When disabled, the first failed batch aborts
// the call.
func WithZeroFill(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.zeroFill = enabled
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates an orchestrator for the given embedder and vector
// dimension.
func NewOrchestrator(embedder ai.Embedder, dimension int, opts ...Option) (*Orchestrator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	o := &Orchestrator{
		embedder:       embedder,
		batchSize:      DefaultBatchSize,
		maxRetries:     DefaultMaxRetries,
		retryBaseDelay: DefaultRetryBaseDelay,
		dimension:      dimension,
		zeroFill:       true,
		logger:         slog.Default().With("component", "embedding-orchestrator"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// BatchFailure records one batch that could not be embedded.
type BatchFailure struct {
	BatchIndex int
	Start      int // index of the first text in the failed batch
	End        int // index one past the last text in the failed batch
	Err        error
}

// Result is the outcome of EmbedAll. Vectors is always exactly as long as
// the input and order-preserving. Partial is true when any batch was
// zero-filled after exhausting retries; the affected ranges are in Failed.
type Result struct {
	Vectors [][]float32
	Failed  []BatchFailure
	Partial bool
}

// EmbedAll embeds all texts in order, one provider call per batch.
//
// Rate-limit errors from the provider are retried with exponential backoff
// before the batch is declared failed; already-completed batches remain
// valid regardless. A provider returning the wrong vector count for a batch
// is a hard error, never coerced. Cancellation is honored between batches.
func (o *Orchestrator) EmbedAll(ctx context.Context, texts []string) (*Result, error) {
	result := &Result{Vectors: make([][]float32, 0, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}

	batches := (len(texts) + o.batchSize - 1) / o.batchSize
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := b * o.batchSize
		end := start + o.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := o.embedBatch(ctx, batch)
		if err != nil {
			if !o.zeroFill {
				return nil, fmt.Errorf("batch %d (texts %d-%d): %w", b, start, end, err)
			}
			o.logger.Error("batch failed after retries, substituting zero-vectors",
				"batch", b, "start", start, "end", end, "err", err)
			result.Partial = true
			result.Failed = append(result.Failed, BatchFailure{BatchIndex: b, Start: start, End: end, Err: err})
			vecs = zeroVectors(len(batch), o.dimension)
		}

		result.Vectors = append(result.Vectors, vecs...)
	}

	if len(result.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(texts), len(result.Vectors))
	}
	return result, nil
}

// embedBatch issues one provider call for the batch, retrying rate-limited
// calls with exponential backoff. Count mismatches and non-retryable
// provider errors surface immediately.
func (o *Orchestrator) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var (
		vecs    [][]float32
		permErr error
	)

	err := RetryWithBackoff(ctx, func() error {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				permErr = err
				return nil
			}
		}

		v, err := o.embedder.EmbedTexts(ctx, batch)
		if err != nil {
			if IsRateLimited(err) {
				return err // retryable
			}
			permErr = err
			return nil
		}
		permErr = nil
		vecs = v
		return nil
	}, o.maxRetries, o.retryBaseDelay)

	if err == nil {
		err = permErr
	}
	if err != nil {
		return nil, err
	}

	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors", ErrCountMismatch, len(batch), len(vecs))
	}
	return vecs, nil
}

// IsRateLimited reports whether an error looks like a provider rate-limit
// signal. Providers surface these as HTTP 429s or messages naming the limit.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests")
}

func zeroVectors(count, dimension int) [][]float32 {
	vecs := make([][]float32, count)
	for i := range vecs {
		vecs[i] = make([]float32, dimension)
	}
	return vecs
}
