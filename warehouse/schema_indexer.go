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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/vectorstore"
)

const (
	// DefaultLargeTableThreshold is the row count above which a table gets
	// structure-plus-samples embeddings instead of per-column ones.
	DefaultLargeTableThreshold = 1_000_000

	// DefaultSampleEmbeddings is how many data-sample embeddings a large
	// table receives.
	DefaultSampleEmbeddings = 3

	// metadataWorkers bounds concurrent describe/sample queries per schema.
	metadataWorkers = 4
)

// SchemaIndexer enumerates a warehouse schema and produces table-level
// embeddings: per-table and per-column descriptions for small tables, one
// structure-only embedding plus a bounded number of data-sample embeddings
// for large ones, keeping description volume flat regardless of table scale.
type SchemaIndexer struct {
	client       QueryClient
	orchestrator *embedding.Orchestrator
	resolver     *vectorstore.Resolver
	ingestor     *vectorstore.Ingestor
	sampler      *Sampler
	cache        *MetadataCache

	largeTableThreshold int64
	sampleEmbeddings    int
	dimension           int
	metric              core.DistanceMetric
	logger              *slog.Logger
}

// SchemaIndexerOption configures a SchemaIndexer.
type SchemaIndexerOption func(*SchemaIndexer)

// WithMetadataCache attaches a metadata cache. Without one, every run
// re-describes and re-samples each table.
func WithMetadataCache(cache *MetadataCache) SchemaIndexerOption {
	return func(x *SchemaIndexer) { x.cache = cache }
}

// WithLargeTableThreshold overrides the row count separating small-table
// from large-table embedding treatment.
func WithLargeTableThreshold(threshold int64) SchemaIndexerOption {
	return func(x *SchemaIndexer) {
		if threshold > 0 {
			x.largeTableThreshold = threshold
		}
	}
}

// WithSchemaCollectionDefaults sets the dimension and metric used when the
// target collection has to be created.
func WithSchemaCollectionDefaults(dimension int, metric core.DistanceMetric) SchemaIndexerOption {
	return func(x *SchemaIndexer) {
		x.dimension = dimension
		x.metric = metric
	}
}

// WithSchemaIndexerLogger sets a custom logger. Default is slog.Default().
func WithSchemaIndexerLogger(logger *slog.Logger) SchemaIndexerOption {
	return func(x *SchemaIndexer) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// NewSchemaIndexer wires a schema indexer from its collaborators.
func NewSchemaIndexer(
	client QueryClient,
	orchestrator *embedding.Orchestrator,
	resolver *vectorstore.Resolver,
	ingestor *vectorstore.Ingestor,
	sampler *Sampler,
	opts ...SchemaIndexerOption,
) (*SchemaIndexer, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if orchestrator == nil {
		return nil, embedding.ErrEmbedderRequired
	}
	if resolver == nil || ingestor == nil {
		return nil, vectorstore.ErrStoreRequired
	}
	if sampler == nil {
		var err error
		sampler, err = NewSampler(client, DefaultSampleTarget)
		if err != nil {
			return nil, err
		}
	}

	x := &SchemaIndexer{
		client:              client,
		orchestrator:        orchestrator,
		resolver:            resolver,
		ingestor:            ingestor,
		sampler:             sampler,
		largeTableThreshold: DefaultLargeTableThreshold,
		sampleEmbeddings:    DefaultSampleEmbeddings,
		dimension:           core.DefaultDimension,
		metric:              core.MetricCosine,
		logger:              slog.Default().With("component", "schema-indexer"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// SchemaIndexStats summarizes one schema-indexing run. Description batches
// whose embedding failed after retries are written with zero vectors; their
// "start-end" description index ranges (end exclusive) are enumerated in
// ZeroFilled.
type SchemaIndexStats struct {
	Tables        int
	TablesFailed  int
	Relationships int
	PointsWritten int
	ZeroFilled    []string
	Collection    string
	Elapsed       time.Duration
}

// IndexSchema enumerates the schema's tables, collects their metadata,
// detects relationships, embeds descriptions and upserts the points.
// Individual table failures are logged and counted, not fatal.
func (x *SchemaIndexer) IndexSchema(ctx context.Context, sourceID, database, schema string) (*SchemaIndexStats, error) {
	started := time.Now()

	names, err := x.client.ListTables(ctx, sourceID, database, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s.%s: %w", database, schema, err)
	}

	stats := &SchemaIndexStats{}
	tables := make([]*core.TableMetadata, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataWorkers)
	var mu sync.Mutex
	for i, name := range names {
		g.Go(func() error {
			meta, err := x.collectTable(gctx, sourceID, database, schema, name)
			if err != nil {
				x.logger.Error("table metadata collection failed", "table", name, "err", err)
				mu.Lock()
				stats.TablesFailed++
				mu.Unlock()
				return nil // one bad table must not sink the schema
			}
			tables[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	collected := tables[:0]
	for _, meta := range tables {
		if meta != nil {
			collected = append(collected, meta)
		}
	}
	tables = collected
	stats.Tables = len(tables)
	if len(tables) == 0 {
		stats.Elapsed = time.Since(started)
		return stats, nil
	}

	if err := DetectRelationships(ctx, x.client, sourceID, schema, tables); err != nil {
		return stats, err
	}
	for _, meta := range tables {
		for _, col := range meta.Columns {
			if col.ForeignKey != "" {
				stats.Relationships++
			}
		}
	}

	texts, ids, payloads := x.describeAll(ctx, sourceID, tables)
	embedded, err := x.orchestrator.EmbedAll(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("embedding descriptions: %w", err)
	}
	for _, f := range embedded.Failed {
		stats.ZeroFilled = append(stats.ZeroFilled, fmt.Sprintf("%d-%d", f.Start, f.End))
	}
	if embedded.Partial {
		x.logger.Warn("descriptions partially embedded, zero vectors substituted",
			"schema", schema, "ranges", stats.ZeroFilled)
	}

	collection, found, err := x.resolver.Resolve(ctx, sourceID)
	if err != nil {
		return stats, err
	}
	if !found {
		collection = vectorstore.DeriveName(sourceID)
	}
	stats.Collection = collection
	spec := core.CollectionSpec{Name: collection, Dimension: x.dimension, Metric: x.metric}
	if err := x.ingestor.EnsureCollection(ctx, spec); err != nil {
		return stats, err
	}

	points := make([]core.VectorPoint, len(texts))
	for i := range texts {
		points[i] = core.VectorPoint{ID: ids[i], Vector: embedded.Vectors[i], Payload: payloads[i]}
	}
	result, err := x.ingestor.UpsertPoints(ctx, collection, points)
	if result != nil {
		stats.PointsWritten = result.Upserted
	}
	stats.Elapsed = time.Since(started)
	return stats, err
}

// collectTable describes and samples one table, serving from cache when the
// row count has not drifted.
func (x *SchemaIndexer) collectTable(ctx context.Context, sourceID, database, schema, table string) (*core.TableMetadata, error) {
	rowCount, err := x.client.EstimateRowCount(ctx, sourceID, database, schema, table)
	if err != nil {
		return nil, fmt.Errorf("estimating rows: %w", err)
	}

	meta := &core.TableMetadata{
		SourceID: sourceID,
		Database: database,
		Schema:   schema,
		Table:    table,
		RowCount: rowCount,
	}
	if x.cache != nil {
		if cached, ok := x.cache.Get(meta.Key()); ok && !Drifted(cached.RowCount, rowCount) {
			return cached, nil
		}
	}

	columns, err := x.client.DescribeTable(ctx, sourceID, database, schema, table)
	if err != nil {
		return nil, fmt.Errorf("describing: %w", err)
	}
	meta.Columns = columns

	samples, tier, err := x.sampler.SampleRows(ctx, meta)
	if err != nil {
		return nil, fmt.Errorf("sampling: %w", err)
	}
	meta.SampleRows = samples
	meta.LastUpdated = time.Now().UTC()
	x.logger.Debug("table sampled", "table", table, "rows", rowCount, "tier", tier.String(), "samples", len(samples))

	if x.cache != nil {
		if err := x.cache.Put(meta); err != nil {
			x.logger.Warn("caching table metadata failed", "table", table, "err", err)
		}
	}
	return meta, nil
}

// describeAll renders the description texts, point ids and payloads for all
// tables. Small tables get a table description plus one per column; large
// tables get a structure-only description plus bounded data samples.
func (x *SchemaIndexer) describeAll(ctx context.Context, sourceID string, tables []*core.TableMetadata) ([]string, []string, []map[string]any) {
	var (
		texts    []string
		ids      []string
		payloads []map[string]any
	)
	add := func(meta *core.TableMetadata, facet, text string) {
		texts = append(texts, text)
		ids = append(ids, core.PointIDForTable(sourceID, meta.Database, meta.Schema, meta.Table, facet))
		payloads = append(payloads, map[string]any{
			"text":     text,
			"sourceId": sourceID,
			"database": meta.Database,
			"schema":   meta.Schema,
			"table":    meta.Table,
			"facet":    facet,
		})
	}

	for _, meta := range tables {
		if meta.RowCount > x.largeTableThreshold {
			add(meta, "structure", describeStructure(meta))
			for i, sample := range x.largeSamples(ctx, sourceID, meta) {
				add(meta, fmt.Sprintf("sample_%d", i), sample)
			}
			continue
		}

		add(meta, "table", describeTable(meta))
		for _, col := range meta.Columns {
			add(meta, "column_"+col.Name, describeColumn(meta, col))
		}
	}
	return texts, ids, payloads
}

// largeSamples renders up to sampleEmbeddings texts for a large table, each
// from a fresh page of rows read straight from the table so the embeddings
// cover more than the sampler's bounded row set. A failed page read falls
// back to re-paging the rows the sampler already collected.
func (x *SchemaIndexer) largeSamples(ctx context.Context, sourceID string, meta *core.TableMetadata) []string {
	if x.sampleEmbeddings < 1 {
		return nil
	}

	per := x.sampler.target / int64(x.sampleEmbeddings)
	if per < 1 {
		per = 1
	}
	order := "1"
	if pk := meta.PrimaryKeyColumn(); pk != "" {
		order = quoteIdent(pk)
	}

	var out []string
	for page := 0; page < x.sampleEmbeddings; page++ {
		query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d`,
			QualifiedTable(meta.Schema, meta.Table), order, per, int64(page)*per)
		result, err := x.client.ExecuteQuery(ctx, sourceID, query)
		if err != nil {
			x.logger.Warn("sample page read failed, re-paging cached sample rows",
				"table", meta.Table, "page", page, "err", err)
			return x.cachedSamplePages(meta)
		}
		if len(result.Rows) == 0 {
			break
		}
		out = append(out, samplePageText(meta, result.Rows))
	}
	return out
}

// cachedSamplePages splits the sampler's rows into even pages.
func (x *SchemaIndexer) cachedSamplePages(meta *core.TableMetadata) []string {
	if len(meta.SampleRows) == 0 {
		return nil
	}
	pages := x.sampleEmbeddings
	if pages > len(meta.SampleRows) {
		pages = len(meta.SampleRows)
	}
	per := (len(meta.SampleRows) + pages - 1) / pages

	var out []string
	for start := 0; start < len(meta.SampleRows); start += per {
		end := start + per
		if end > len(meta.SampleRows) {
			end = len(meta.SampleRows)
		}
		out = append(out, samplePageText(meta, meta.SampleRows[start:end]))
	}
	return out
}

func samplePageText(meta *core.TableMetadata, rows []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample data from %s.%s.%s:\n", meta.Database, meta.Schema, meta.Table)
	for _, row := range rows {
		b.WriteString(rowLine(meta.Columns, row))
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func describeTable(meta *core.TableMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s.%s.%s with %d rows.\n", meta.Database, meta.Schema, meta.Table, meta.RowCount)
	b.WriteString("Columns:\n")
	for _, col := range meta.Columns {
		b.WriteString("  " + columnLine(col) + "\n")
	}
	if len(meta.SampleRows) > 0 {
		fmt.Fprintf(&b, "Sample of %d rows:\n", len(meta.SampleRows))
		for i, row := range meta.SampleRows {
			if i >= 5 {
				break
			}
			b.WriteString("  " + rowLine(meta.Columns, row) + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// describeStructure is describeTable without data rows, keeping large-table
// descriptions bounded.
func describeStructure(meta *core.TableMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s.%s.%s with %d rows (structure only).\n", meta.Database, meta.Schema, meta.Table, meta.RowCount)
	b.WriteString("Columns:\n")
	for _, col := range meta.Columns {
		b.WriteString("  " + columnLine(col) + "\n")
	}
	return strings.TrimSpace(b.String())
}

func describeColumn(meta *core.TableMetadata, col core.ColumnMetadata) string {
	return fmt.Sprintf("Column %s of table %s.%s.%s: %s",
		col.Name, meta.Database, meta.Schema, meta.Table, columnLine(col))
}

func columnLine(col core.ColumnMetadata) string {
	parts := []string{col.Name, col.Type}
	if col.PrimaryKey {
		parts = append(parts, "primary key")
	}
	if !col.Nullable {
		parts = append(parts, "not null")
	}
	if col.ForeignKey != "" {
		parts = append(parts, "references "+col.ForeignKey)
	}
	return strings.Join(parts, " ")
}

func rowLine(columns []core.ColumnMetadata, row map[string]any) string {
	pairs := make([]string, 0, len(columns))
	for _, col := range columns {
		if v, ok := row[col.Name]; ok {
			pairs = append(pairs, fmt.Sprintf("%s: %v", col.Name, v))
		}
	}
	if len(pairs) == 0 {
		for k, v := range row {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return strings.Join(pairs, ", ")
}
