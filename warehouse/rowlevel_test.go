package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/indexit/ai/mock"
	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/vectorstore"
	"github.com/poiesic/indexit/vectorstore/memory"
)

func TestPlanChunks(t *testing.T) {
	chunks := PlanChunks(10, 4)
	require.Len(t, chunks, 3)
	assert.Equal(t, core.RowChunk{Index: 0, Offset: 0, Size: 4}, chunks[0])
	assert.Equal(t, core.RowChunk{Index: 1, Offset: 4, Size: 4}, chunks[1])
	assert.Equal(t, core.RowChunk{Index: 2, Offset: 8, Size: 2}, chunks[2])

	assert.Nil(t, PlanChunks(0, 4))
	assert.Nil(t, PlanChunks(10, 0))

	// Exact multiple leaves no runt chunk.
	chunks = PlanChunks(8, 4)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(4), chunks[1].Size)
}

func orderColumns() []core.ColumnMetadata {
	return []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "name", Type: "text"},
		{Name: "amount", Type: "numeric"},
	}
}

func orderRowData(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"id":     int64(i + 1),
			"name":   "order",
			"amount": "10.50",
		}
	}
	return rows
}

func orderMeta(rowCount int64) *core.TableMetadata {
	return &core.TableMetadata{
		SourceID: "42", Database: "dw", Schema: "public", Table: "orders",
		RowCount: rowCount, Columns: orderColumns(),
	}
}

func newRowIndexer(t *testing.T, client QueryClient, opts ...RowIndexerOption) (*RowLevelIndexer, *memory.Store) {
	t.Helper()
	return newRowIndexerWith(t, client, mock.NewMockEmbedder(8), opts...)
}

func newRowIndexerWith(t *testing.T, client QueryClient, embedder *mock.MockEmbedder, opts ...RowIndexerOption) (*RowLevelIndexer, *memory.Store) {
	t.Helper()

	orchestrator, err := embedding.NewOrchestrator(embedder, 8)
	require.NoError(t, err)

	store := memory.NewStore()
	resolver, err := vectorstore.NewResolver(store, nil)
	require.NoError(t, err)
	ingestor, err := vectorstore.NewIngestor(store)
	require.NoError(t, err)

	base := []RowIndexerOption{
		WithRowChunkSize(4),
		WithSystemStats(fakeStats{cores: 4, usedPercent: 40, freeBytes: plentyOfMemory}),
		WithRowCollectionDefaults(8, core.MetricCosine),
		WithChunkRetry(1, time.Millisecond),
	}
	indexer, err := NewRowLevelIndexer(client, orchestrator, resolver, ingestor, append(base, opts...)...)
	require.NoError(t, err)
	return indexer, store
}

func TestRowLevelIndexer_IndexTable(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))

	indexer, store := newRowIndexer(t, client)
	stats, err := indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.TotalRows)
	assert.Equal(t, int64(10), stats.RowsProcessed)
	assert.Equal(t, 3, stats.ChunksTotal)
	assert.Empty(t, stats.ChunksFailed)
	assert.Equal(t, 2, stats.Concurrency)
	assert.Equal(t, 10, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_ReindexingIsIdempotent(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))

	indexer, store := newRowIndexer(t, client)
	_, err := indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)
	_, err = indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)

	// Row point ids are derived from the row's identity, so a rerun
	// overwrites rather than duplicates.
	assert.Equal(t, 10, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_FailedChunkDoesNotBlockSiblings(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))
	client.failures["OFFSET 4"] = 100 // middle chunk always fails

	indexer, store := newRowIndexer(t, client)
	stats, err := indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)

	assert.Equal(t, int64(6), stats.RowsProcessed)
	assert.Equal(t, []int{1}, stats.ChunksFailed)
	assert.Equal(t, 6, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_TransientChunkFailureRetried(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))
	client.failures["OFFSET 4"] = 1 // fails once, then recovers

	indexer, store := newRowIndexer(t, client, WithChunkRetry(3, time.Millisecond))
	stats, err := indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.RowsProcessed)
	assert.Empty(t, stats.ChunksFailed)
	assert.Equal(t, 10, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_ZeroFilledRowsEnumerated(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))

	embedder := mock.NewMockEmbedder(8)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model unavailable")
	}

	indexer, store := newRowIndexerWith(t, client, embedder)
	stats, err := indexer.IndexTable(context.Background(), orderMeta(10))
	require.NoError(t, err)

	// Zero vectors are substituted so coverage still completes, but the
	// affected row ranges are enumerated rather than passed off as clean
	// success.
	assert.Equal(t, int64(10), stats.RowsProcessed)
	assert.Empty(t, stats.ChunksFailed)
	assert.ElementsMatch(t, []string{"0-4", "4-8", "8-10"}, stats.ZeroFilled)
	assert.Equal(t, 10, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_EmptyTable(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 0, orderColumns(), nil)

	indexer, store := newRowIndexer(t, client)
	stats, err := indexer.IndexTable(context.Background(), orderMeta(0))
	require.NoError(t, err)

	assert.Zero(t, stats.ChunksTotal)
	assert.Zero(t, stats.RowsProcessed)
	assert.Equal(t, 0, store.PointCount("datasource_42"))
}

func TestRowLevelIndexer_CancelledBetweenWaves(t *testing.T) {
	client := newFakeClient()
	client.addTable("orders", 10, orderColumns(), orderRowData(10))

	indexer, _ := newRowIndexer(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := indexer.IndexTable(ctx, orderMeta(10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReduceRowPayload(t *testing.T) {
	columns := []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "customer_id", Type: "bigint"},
		{Name: "name", Type: "text"},
		{Name: "status", Type: "text"},
		{Name: "description", Type: "text"},
		{Name: "note", Type: "text"},
		{Name: "amount", Type: "numeric"},
		{Name: "created_at", Type: "timestamp with time zone"},
	}
	longText := strings.Repeat("x", 500)
	longName := strings.Repeat("n", 500)
	row := map[string]any{
		"id":          int64(7),
		"customer_id": int64(3),
		"name":        longName,
		"status":      "open",
		"description": longText,
		"note":        "short note",
		"amount":      "10.50",
		"created_at":  "2026-01-15T00:00:00Z",
	}

	payload := reduceRowPayload(columns, row)

	// Identifiers, dates and numerics survive verbatim.
	assert.Equal(t, int64(7), payload["id"])
	assert.Equal(t, int64(3), payload["customer_id"])
	assert.Equal(t, "10.50", payload["amount"])
	assert.Equal(t, "2026-01-15T00:00:00Z", payload["created_at"])

	// Important columns keep full text no matter the length.
	assert.Equal(t, longName, payload["name"])
	assert.Equal(t, "open", payload["status"])

	// Short free text is kept; long free text is truncated with a marker.
	assert.Equal(t, "short note", payload["note"])
	desc := payload["description"].(string)
	assert.True(t, strings.HasSuffix(desc, truncationMarker))
	assert.Equal(t, strings.Repeat("x", 100)+truncationMarker, desc)
}

func TestTruncateText_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 60) // 2 bytes per rune
	got := truncateText(s, 99)

	// Never cut a rune in half.
	assert.Equal(t, strings.Repeat("é", 49), got)
	assert.Equal(t, s, truncateText(s, 200))
}
