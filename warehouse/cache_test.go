package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/indexit/core"
)

func newTestCache(t *testing.T) *MetadataCache {
	t.Helper()
	cache, err := OpenMetadataCache("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestMetadataCache_PutGet(t *testing.T) {
	cache := newTestCache(t)

	meta := &core.TableMetadata{
		SourceID: "42", Database: "dw", Schema: "public", Table: "orders",
		RowCount: 1234,
		Columns: []core.ColumnMetadata{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "status", Type: "text"},
		},
		SampleRows:  []map[string]any{{"id": float64(1), "status": "open"}},
		LastUpdated: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, cache.Put(meta))

	got, ok := cache.Get(meta.Key())
	require.True(t, ok)
	assert.Equal(t, int64(1234), got.RowCount)
	assert.Len(t, got.Columns, 2)
	assert.Equal(t, "id", got.Columns[0].Name)
}

func TestMetadataCache_Miss(t *testing.T) {
	cache := newTestCache(t)

	_, ok := cache.Get("42/dw/public/missing")
	assert.False(t, ok)
}

func TestMetadataCache_Invalidate(t *testing.T) {
	cache := newTestCache(t)

	meta := &core.TableMetadata{SourceID: "42", Database: "dw", Schema: "public", Table: "orders", RowCount: 10}
	require.NoError(t, cache.Put(meta))
	require.NoError(t, cache.Invalidate(meta.Key()))

	_, ok := cache.Get(meta.Key())
	assert.False(t, ok)

	// Invalidating an absent key is not an error.
	assert.NoError(t, cache.Invalidate("42/dw/public/never_cached"))
}

func TestDrifted(t *testing.T) {
	tests := []struct {
		cached, live int64
		want         bool
	}{
		{100, 100, false},
		{0, 5, true},     // never counted before
		{100, 104, false}, // 4% drift tolerated
		{100, 109, false}, // just under the threshold
		{100, 110, true},  // 10% drift refreshes
		{100, 89, true},   // shrinkage counts too
		{100, 91, false},
		{1000, 0, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Drifted(tc.cached, tc.live),
			"cached=%d live=%d", tc.cached, tc.live)
	}
}
