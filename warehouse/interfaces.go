package warehouse

import (
	"context"

	"github.com/poiesic/indexit/core"
)

// QueryResult is the tabular outcome of a warehouse query.
type QueryResult struct {
	Columns []string
	Rows    []map[string]any
}

// QueryClient is the narrow contract against a warehouse connection.
// Implementations must be safe for concurrent use.
type QueryClient interface {
	// ExecuteQuery runs a SQL statement against the source's warehouse and
	// returns its rows.
	ExecuteQuery(ctx context.Context, sourceID, query string) (*QueryResult, error)

	// ListTables enumerates the table names in a schema.
	ListTables(ctx context.Context, sourceID, database, schema string) ([]string, error)

	// DescribeTable returns the column definitions of a table.
	DescribeTable(ctx context.Context, sourceID, database, schema, table string) ([]core.ColumnMetadata, error)

	// EstimateRowCount returns an approximate row count, preferring catalog
	// statistics over an exact count.
	EstimateRowCount(ctx context.Context, sourceID, database, schema, table string) (int64, error)

	// Close releases the underlying connection resources.
	Close() error
}

// SystemStats exposes the live resource readings the row-level indexer's
// concurrency formula depends on. Abstracted so tests can script utilization
// levels.
type SystemStats interface {
	// CPUCount returns the number of logical cores.
	CPUCount() int

	// MemoryUsedPercent returns current memory utilization in [0, 100].
	MemoryUsedPercent() (float64, error)

	// FreeMemoryBytes returns currently available memory in bytes.
	FreeMemoryBytes() (uint64, error)
}
