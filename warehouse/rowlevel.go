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


package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/vectorstore"
)

const (
	// DefaultRowChunkSize is the rows-per-chunk page for row-level indexing.
	DefaultRowChunkSize = 25_000

	// DefaultChunkRetries is how many times a failed chunk is attempted
	// before being skipped.
	DefaultChunkRetries = 3

	// maxVerbatimTextLength is the longest text value kept verbatim in a
	// row payload unless the column is semantically important by name.
	maxVerbatimTextLength = 100

	truncationMarker = "...[truncated]"
)

// importantColumns are text columns always kept verbatim in row payloads.
var importantColumns = map[string]bool{
	"name":     true,
	"type":     true,
	"status":   true,
	"category": true,
	"title":    true,
	"label":    true,
}

// RowLevelIndexer indexes every row of a table (not a sample) so exact
// aggregations can be answered from the vector store. Rows are partitioned
// into offset chunks processed in waves whose width comes from live
// resource headroom; each chunk carries its own outcome, so one bad chunk
// cannot block full-table coverage.
type RowLevelIndexer struct {
	client       QueryClient
	orchestrator *embedding.Orchestrator
	resolver     *vectorstore.Resolver
	ingestor     *vectorstore.Ingestor
	stats        SystemStats

	chunkSize          int64
	chunkRetries       int
	retryDelay         time.Duration
	workerMemoryBudget uint64
	dimension          int
	metric             core.DistanceMetric
	logger             *slog.Logger
}

// RowIndexerOption configures a RowLevelIndexer.
type RowIndexerOption func(*RowLevelIndexer)

// WithRowChunkSize overrides the rows-per-chunk page size.
func WithRowChunkSize(size int64) RowIndexerOption {
	return func(x *RowLevelIndexer) {
		if size > 0 {
			x.chunkSize = size
		}
	}
}

// WithChunkRetry sets the per-chunk retry policy.
func WithChunkRetry(attempts int, delay time.Duration) RowIndexerOption {
	return func(x *RowLevelIndexer) {
		if attempts > 0 {
			x.chunkRetries = attempts
			x.retryDelay = delay
		}
	}
}

// WithSystemStats overrides the resource readings used for the concurrency
// formula. Default is live gopsutil readings.
func WithSystemStats(stats SystemStats) RowIndexerOption {
	return func(x *RowLevelIndexer) {
		if stats != nil {
			x.stats = stats
		}
	}
}

// WithRowCollectionDefaults sets the dimension and metric used when the
// target collection has to be created.
func WithRowCollectionDefaults(dimension int, metric core.DistanceMetric) RowIndexerOption {
	return func(x *RowLevelIndexer) {
		x.dimension = dimension
		x.metric = metric
	}
}

// WithRowIndexerLogger sets a custom logger. Default is slog.Default().
func WithRowIndexerLogger(logger *slog.Logger) RowIndexerOption {
	return func(x *RowLevelIndexer) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// NewRowLevelIndexer wires a row-level indexer from its collaborators.
func NewRowLevelIndexer(
	client QueryClient,
	orchestrator *embedding.Orchestrator,
	resolver *vectorstore.Resolver,
	ingestor *vectorstore.Ingestor,
	opts ...RowIndexerOption,
) (*RowLevelIndexer, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if orchestrator == nil {
		return nil, embedding.ErrEmbedderRequired
	}
	if resolver == nil || ingestor == nil {
		return nil, vectorstore.ErrStoreRequired
	}

	x := &RowLevelIndexer{
		client:             client,
		orchestrator:       orchestrator,
		resolver:           resolver,
		ingestor:           ingestor,
		stats:              LiveSystemStats{},
		chunkSize:          DefaultRowChunkSize,
		chunkRetries:       DefaultChunkRetries,
		retryDelay:         time.Second,
		workerMemoryBudget: DefaultWorkerMemoryBudget,
		dimension:          core.DefaultDimension,
		metric:             core.MetricCosine,
		logger:             slog.Default().With("component", "rowlevel-indexer"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// RowIndexStats reports coverage of one row-level indexing run. Partial
// coverage is observable: RowsProcessed vs TotalRows, with the failed chunk
// indices enumerated. Rows whose embedding batch was zero-filled after
// exhausted retries are upserted with zero vectors; their absolute offset
// ranges are enumerated in ZeroFilled so the degraded coverage is never
// mistaken for full success.
type RowIndexStats struct {
	TotalRows     int64
	RowsProcessed int64
	ChunksTotal   int
	ChunksFailed  []int
	// ZeroFilled holds "start-end" absolute row-offset ranges (end
	// exclusive) that carry substituted zero vectors.
	ZeroFilled  []string
	Concurrency int
	Elapsed     time.Duration
}

// PlanChunks partitions a table's rows into contiguous offset chunks.
func PlanChunks(rowCount, chunkSize int64) []core.RowChunk {
	if rowCount <= 0 || chunkSize <= 0 {
		return nil
	}
	var chunks []core.RowChunk
	for offset := int64(0); offset < rowCount; offset += chunkSize {
		size := chunkSize
		if offset+size > rowCount {
			size = rowCount - offset
		}
		chunks = append(chunks, core.RowChunk{
			Index:  len(chunks),
			Offset: offset,
			Size:   size,
		})
	}
	return chunks
}

// IndexTable indexes every row of the table described by meta. Chunks are
// processed in waves; the context is checked between waves so cancellation
// takes effect at the next wave boundary.
func (x *RowLevelIndexer) IndexTable(ctx context.Context, meta *core.TableMetadata) (*RowIndexStats, error) {
	started := time.Now()

	rowCount := meta.RowCount
	if rowCount <= 0 {
		var err error
		rowCount, err = x.client.EstimateRowCount(ctx, meta.SourceID, meta.Database, meta.Schema, meta.Table)
		if err != nil {
			return nil, fmt.Errorf("estimating rows for %s: %w", meta.Table, err)
		}
	}

	chunks := PlanChunks(rowCount, x.chunkSize)
	concurrency := ComputeConcurrency(x.stats, x.workerMemoryBudget)
	stats := &RowIndexStats{
		TotalRows:   rowCount,
		ChunksTotal: len(chunks),
		Concurrency: concurrency,
	}
	if len(chunks) == 0 {
		stats.Elapsed = time.Since(started)
		return stats, nil
	}

	collection, found, err := x.resolver.Resolve(ctx, meta.SourceID)
	if err != nil {
		return stats, err
	}
	if !found {
		collection = vectorstore.DeriveName(meta.SourceID)
	}
	spec := core.CollectionSpec{Name: collection, Dimension: x.dimension, Metric: x.metric}
	if err := x.ingestor.EnsureCollection(ctx, spec); err != nil {
		return stats, err
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return stats, err
	}
	defer pool.Release()

	x.logger.Info("row-level indexing started",
		"table", meta.Table, "rows", rowCount, "chunks", len(chunks), "concurrency", concurrency)

	var (
		processed atomic.Int64
		mu        sync.Mutex
	)
	for waveStart := 0; waveStart < len(chunks); waveStart += concurrency {
		if err := ctx.Err(); err != nil {
			stats.RowsProcessed = processed.Load()
			stats.Elapsed = time.Since(started)
			return stats, err
		}

		waveEnd := waveStart + concurrency
		if waveEnd > len(chunks) {
			waveEnd = len(chunks)
		}

		var wg sync.WaitGroup
		for i := waveStart; i < waveEnd; i++ {
			chunk := &chunks[i]
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				rows, zeroFilled, err := x.processChunk(ctx, meta, collection, chunk)
				if err != nil {
					chunk.Err = err
					x.logger.Error("chunk skipped after retries",
						"table", meta.Table, "chunk", chunk.Index, "offset", chunk.Offset, "err", err)
					mu.Lock()
					stats.ChunksFailed = append(stats.ChunksFailed, chunk.Index)
					mu.Unlock()
					return
				}
				chunk.RowsProcessed = rows
				processed.Add(rows)
				if len(zeroFilled) > 0 {
					mu.Lock()
					stats.ZeroFilled = append(stats.ZeroFilled, zeroFilled...)
					mu.Unlock()
				}
			})
			if submitErr != nil {
				wg.Done()
				chunk.Err = submitErr
				mu.Lock()
				stats.ChunksFailed = append(stats.ChunksFailed, chunk.Index)
				mu.Unlock()
			}
		}
		wg.Wait()
	}

	stats.RowsProcessed = processed.Load()
	stats.Elapsed = time.Since(started)
	x.logger.Info("row-level indexing finished",
		"table", meta.Table, "processed", stats.RowsProcessed, "total", stats.TotalRows,
		"failedChunks", len(stats.ChunksFailed), "zeroFilled", len(stats.ZeroFilled), "elapsed", stats.Elapsed)
	return stats, nil
}

// processChunk reads, embeds and upserts one row-offset chunk, retrying the
// whole chunk with backoff before giving up.
func (x *RowLevelIndexer) processChunk(ctx context.Context, meta *core.TableMetadata, collection string, chunk *core.RowChunk) (int64, []string, error) {
	var (
		rows       int64
		zeroFilled []string
	)
	err := embedding.RetryWithBackoff(ctx, func() error {
		n, zf, err := x.indexChunkOnce(ctx, meta, collection, chunk)
		if err != nil {
			return err
		}
		rows, zeroFilled = n, zf
		return nil
	}, x.chunkRetries, x.retryDelay)
	return rows, zeroFilled, err
}

func (x *RowLevelIndexer) indexChunkOnce(ctx context.Context, meta *core.TableMetadata, collection string, chunk *core.RowChunk) (int64, []string, error) {
	order := "1"
	if pk := meta.PrimaryKeyColumn(); pk != "" {
		order = quoteIdent(pk)
	}
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d`,
		QualifiedTable(meta.Schema, meta.Table), order, chunk.Size, chunk.Offset)

	result, err := x.client.ExecuteQuery(ctx, meta.SourceID, query)
	if err != nil {
		return 0, nil, fmt.Errorf("reading rows: %w", err)
	}
	if len(result.Rows) == 0 {
		return 0, nil, nil
	}

	texts := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		texts[i] = rowDescription(meta, row)
	}
	embedded, err := x.orchestrator.EmbedAll(ctx, texts)
	if err != nil {
		return 0, nil, fmt.Errorf("embedding rows: %w", err)
	}
	var zeroFilled []string
	for _, f := range embedded.Failed {
		zeroFilled = append(zeroFilled,
			fmt.Sprintf("%d-%d", chunk.Offset+int64(f.Start), chunk.Offset+int64(f.End)))
	}

	points := make([]core.VectorPoint, len(result.Rows))
	for i, row := range result.Rows {
		offset := chunk.Offset + int64(i)
		payload := reduceRowPayload(meta.Columns, row)
		payload["sourceId"] = meta.SourceID
		payload["table"] = meta.Table
		payload["schema"] = meta.Schema
		payload["rowOffset"] = offset
		points[i] = core.VectorPoint{
			ID:      core.PointIDForRow(meta.SourceID, meta.Database, meta.Schema, meta.Table, offset),
			Vector:  embedded.Vectors[i],
			Payload: payload,
		}
	}

	result2, err := x.ingestor.UpsertPoints(ctx, collection, points)
	if err != nil {
		return 0, nil, fmt.Errorf("upserting rows: %w", err)
	}
	return int64(result2.Upserted), zeroFilled, nil
}

// rowDescription renders one row as text, one line per cell.
func rowDescription(meta *core.TableMetadata, row map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Row from %s.%s.%s\n", meta.Database, meta.Schema, meta.Table)
	for _, col := range meta.Columns {
		v, ok := row[col.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %v\n", col.Name, v)
	}
	return strings.TrimSpace(b.String())
}

// reduceRowPayload keeps identifier, date and numeric columns verbatim;
// text columns survive verbatim only when short or semantically important
// by name, otherwise they are truncated with a marker.
func reduceRowPayload(columns []core.ColumnMetadata, row map[string]any) map[string]any {
	payload := make(map[string]any, len(row)+4)
	for _, col := range columns {
		v, ok := row[col.Name]
		if !ok {
			continue
		}

		if col.PrimaryKey || strings.HasSuffix(strings.ToLower(col.Name), "_id") ||
			isDateType(col.Type) || isNumericType(col.Type) {
			payload[col.Name] = v
			continue
		}

		s, isString := v.(string)
		if !isString {
			payload[col.Name] = v
			continue
		}
		if len(s) < maxVerbatimTextLength || importantColumns[strings.ToLower(col.Name)] {
			payload[col.Name] = s
			continue
		}
		payload[col.Name] = truncateText(s, maxVerbatimTextLength) + truncationMarker
	}
	return payload
}

// truncateText cuts at a rune boundary at or below limit bytes.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func isDateType(t string) bool {
	t = strings.ToLower(t)
	return strings.Contains(t, "date") || strings.Contains(t, "time")
}

func isNumericType(t string) bool {
	switch strings.ToLower(t) {
	case "smallint", "integer", "int", "int2", "int4", "int8", "bigint",
		"numeric", "decimal", "real", "double precision", "float4", "float8", "money":
		return true
	default:
		return false
	}
}
