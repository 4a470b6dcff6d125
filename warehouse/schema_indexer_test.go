package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/indexit/ai/mock"
	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/vectorstore"
	"github.com/poiesic/indexit/vectorstore/memory"
)

func newSchemaIndexer(t *testing.T, client QueryClient, opts ...SchemaIndexerOption) (*SchemaIndexer, *memory.Store) {
	t.Helper()
	return newSchemaIndexerWith(t, client, mock.NewMockEmbedder(8), opts...)
}

func newSchemaIndexerWith(t *testing.T, client QueryClient, embedder *mock.MockEmbedder, opts ...SchemaIndexerOption) (*SchemaIndexer, *memory.Store) {
	t.Helper()

	orchestrator, err := embedding.NewOrchestrator(embedder, 8)
	require.NoError(t, err)

	store := memory.NewStore()
	resolver, err := vectorstore.NewResolver(store, nil)
	require.NoError(t, err)
	ingestor, err := vectorstore.NewIngestor(store)
	require.NoError(t, err)

	base := []SchemaIndexerOption{
		WithSchemaCollectionDefaults(8, core.MetricCosine),
	}
	indexer, err := NewSchemaIndexer(client, orchestrator, resolver, ingestor, nil, append(base, opts...)...)
	require.NoError(t, err)
	return indexer, store
}

func TestSchemaIndexer_SmallTableFacets(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 50, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "status", Type: "text"},
	}, sampleRowData(50))

	indexer, store := newSchemaIndexer(t, client)
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	// One table description plus one per column.
	assert.Equal(t, 1, stats.Tables)
	assert.Equal(t, 3, stats.PointsWritten)
	assert.Equal(t, "datasource_42", stats.Collection)
	assert.Equal(t, 3, store.PointCount("datasource_42"))
}

func TestSchemaIndexer_LargeTableGetsStructureAndSamples(t *testing.T) {
	client := newFakeClient()
	client.addTable("events", 1000, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "payload", Type: "text"},
	}, sampleRowData(300))

	indexer, store := newSchemaIndexer(t, client, WithLargeTableThreshold(100))
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	// Structure embedding plus the bounded sample pages, never per-column.
	assert.Equal(t, 1+DefaultSampleEmbeddings, stats.PointsWritten)
	assert.Equal(t, 1+DefaultSampleEmbeddings, store.PointCount("datasource_42"))

	// Each sample page is a fresh paginated read, not a re-slice of the
	// sampler's rows.
	var pageReads int
	for _, q := range client.recordedQueries() {
		if strings.Contains(q, "OFFSET") {
			pageReads++
		}
	}
	assert.Equal(t, DefaultSampleEmbeddings, pageReads)
}

func TestSchemaIndexer_SamplePagesFallBackToCachedRows(t *testing.T) {
	client := newFakeClient()
	client.addTable("events", 1000, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "payload", Type: "text"},
	}, sampleRowData(300))
	client.rejected = []string{"OFFSET"}

	indexer, store := newSchemaIndexer(t, client, WithLargeTableThreshold(100))
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	// Page reads fail, so the sampler's rows are re-paged instead.
	assert.Equal(t, 1+DefaultSampleEmbeddings, stats.PointsWritten)
	assert.Equal(t, 1+DefaultSampleEmbeddings, store.PointCount("datasource_42"))
}

func TestSchemaIndexer_ZeroFilledDescriptionsEnumerated(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 50, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "status", Type: "text"},
	}, sampleRowData(50))

	embedder := mock.NewMockEmbedder(8)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model unavailable")
	}

	indexer, store := newSchemaIndexerWith(t, client, embedder)
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	// All three descriptions land as zero vectors, and the run says so.
	assert.Equal(t, 3, stats.PointsWritten)
	assert.Equal(t, []string{"0-3"}, stats.ZeroFilled)
	assert.Equal(t, 3, store.PointCount("datasource_42"))
}

func TestSchemaIndexer_RelationshipsCounted(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "customer_id", Type: "bigint"},
	}, sampleRowData(10))
	client.addTable("customers", 10, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "name", Type: "text"},
	}, sampleRowData(10))

	indexer, _ := newSchemaIndexer(t, client)
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Tables)
	assert.Equal(t, 1, stats.Relationships)
}

// describeFailingClient fails DescribeTable for one table name.
type describeFailingClient struct {
	*fakeClient
	failTable string
}

func (c *describeFailingClient) DescribeTable(ctx context.Context, sourceID, database, schema, table string) ([]core.ColumnMetadata, error) {
	if table == c.failTable {
		return nil, errors.New("permission denied")
	}
	return c.fakeClient.DescribeTable(ctx, sourceID, database, schema, table)
}

func TestSchemaIndexer_TableFailureNotFatal(t *testing.T) {
	inner := newFakeClient()
	inner.addTable("orders", 10, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
	}, sampleRowData(10))
	inner.addTable("restricted", 10, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
	}, sampleRowData(10))
	client := &describeFailingClient{fakeClient: inner, failTable: "restricted"}

	indexer, store := newSchemaIndexer(t, client)
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Tables)
	assert.Equal(t, 1, stats.TablesFailed)
	assert.Greater(t, store.PointCount("datasource_42"), 0)
}

func TestSchemaIndexer_CacheServesUnchangedTables(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 500, []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "status", Type: "text"},
	}, sampleRowData(500))

	cache := newTestCache(t)
	indexer, _ := newSchemaIndexer(t, client, WithMetadataCache(cache))

	_, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)
	afterFirst := len(client.recordedQueries())

	// Same row count: the cached metadata is served, so the second run adds
	// only the relationship catalog query, no fresh sampling.
	_, err = indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)
	assert.Equal(t, afterFirst+1, len(client.recordedQueries()))
}

func TestSchemaIndexer_EmptySchema(t *testing.T) {
	indexer, store := newSchemaIndexer(t, newFakeClient())
	stats, err := indexer.IndexSchema(context.Background(), "42", "dw", "public")
	require.NoError(t, err)

	assert.Zero(t, stats.Tables)
	assert.Zero(t, stats.PointsWritten)
	assert.Equal(t, 0, store.PointCount("datasource_42"))
}
