package warehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/indexit/core"
)

func relationshipTables() []*core.TableMetadata {
	return []*core.TableMetadata{
		{
			SourceID: "42", Database: "dw", Schema: "public", Table: "orders",
			Columns: []core.ColumnMetadata{
				{Name: "id", Type: "bigint", PrimaryKey: true},
				{Name: "customer_id", Type: "bigint"},
				{Name: "category_id", Type: "bigint"},
				{Name: "external_id", Type: "text"},
				{Name: "amount", Type: "numeric"},
			},
		},
		{
			SourceID: "42", Database: "dw", Schema: "public", Table: "customers",
			Columns: []core.ColumnMetadata{
				{Name: "customer_pk", Type: "bigint", PrimaryKey: true},
				{Name: "name", Type: "text"},
			},
		},
		{
			SourceID: "42", Database: "dw", Schema: "public", Table: "categories",
			Columns: []core.ColumnMetadata{
				{Name: "id", Type: "bigint", PrimaryKey: true},
				{Name: "label", Type: "text"},
			},
		},
	}
}

func TestDetectRelationships_FromCatalog(t *testing.T) {
	client := newFakeClient()
	client.fkRows = []map[string]any{
		{
			"table_name":     "orders",
			"column_name":    "customer_id",
			"foreign_table":  "customers",
			"foreign_column": "customer_pk",
		},
	}

	tables := relationshipTables()
	require.NoError(t, DetectRelationships(context.Background(), client, "42", "public", tables))

	orders := tables[0]
	assert.Equal(t, "customers.customer_pk", orders.Columns[1].ForeignKey)

	// The catalog reported edges, so the naming heuristic stays out of it:
	// category_id remains unresolved.
	assert.Empty(t, orders.Columns[2].ForeignKey)
}

func TestDetectRelationships_HeuristicWhenCatalogEmpty(t *testing.T) {
	client := newFakeClient()

	tables := relationshipTables()
	require.NoError(t, DetectRelationships(context.Background(), client, "42", "public", tables))

	orders := tables[0]

	// customer_id -> customers (simple plural), completed by its primary key.
	assert.Equal(t, "customers.customer_pk", orders.Columns[1].ForeignKey)

	// category_id -> categories (y -> ies plural).
	assert.Equal(t, "categories.id", orders.Columns[2].ForeignKey)

	// external_id has no matching table; amount is not an _id column; the
	// primary key itself never becomes a foreign key.
	assert.Empty(t, orders.Columns[3].ForeignKey)
	assert.Empty(t, orders.Columns[4].ForeignKey)
	assert.Empty(t, orders.Columns[0].ForeignKey)
}

func TestDetectRelationships_HeuristicOnCatalogFailure(t *testing.T) {
	client := newFakeClient()
	client.rejected = []string{"FOREIGN KEY"}

	tables := relationshipTables()
	require.NoError(t, DetectRelationships(context.Background(), client, "42", "public", tables))
	assert.Equal(t, "customers.customer_pk", tables[0].Columns[1].ForeignKey)
}

func TestDetectRelationships_NilClient(t *testing.T) {
	err := DetectRelationships(context.Background(), nil, "42", "public", nil)
	assert.ErrorIs(t, err, ErrClientRequired)
}

func TestMatchTable_DefaultsPrimaryKeyToID(t *testing.T) {
	tables := []*core.TableMetadata{
		{
			Table: "orders",
			Columns: []core.ColumnMetadata{
				{Name: "warehouse_id", Type: "bigint"},
			},
		},
		{
			Table: "warehouses",
			Columns: []core.ColumnMetadata{
				{Name: "code", Type: "text"},
			},
		},
	}
	heuristicRelationships(tables)

	// The referenced table records no primary key, so "id" is assumed.
	assert.Equal(t, "warehouses.id", tables[0].Columns[0].ForeignKey)
}
