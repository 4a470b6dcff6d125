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
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/poiesic/indexit/core"
)

// PostgresQueryClient is a QueryClient over one Postgres-compatible
// warehouse connection. The sourceID arguments are accepted for contract
// symmetry but the client is bound to a single warehouse at construction.
type PostgresQueryClient struct {
	db *sql.DB
}

// NewPostgresQueryClient opens a connection pool against dsn.
func NewPostgresQueryClient(ctx context.Context, dsn string) (*PostgresQueryClient, error) {
	if dsn == "" {
		return nil, fmt.Errorf("warehouse dsn is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &PostgresQueryClient{db: db}, nil
}

func (c *PostgresQueryClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *PostgresQueryClient) ExecuteQuery(ctx context.Context, _ string, query string) (*QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

func (c *PostgresQueryClient) ListTables(ctx context.Context, _ string, database, schema string) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := c.db.QueryContext(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *PostgresQueryClient) DescribeTable(ctx context.Context, _ string, database, schema, table string) ([]core.ColumnMetadata, error) {
	const q = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`
	rows, err := c.db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []core.ColumnMetadata
	for rows.Next() {
		var col core.ColumnMetadata
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.PrimaryKey); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", schema, table, ErrTableNotFound)
	}
	return columns, nil
}

// EstimateRowCount climbs the estimation ladder: catalog statistics first,
// then a scaled one-percent block sample, then an exact count as the last
// resort. Exact counts are expensive on very large tables.
func (c *PostgresQueryClient) EstimateRowCount(ctx context.Context, _ string, database, schema, table string) (int64, error) {
	return estimateRowCount(ctx, func(ctx context.Context, query string, args ...any) (int64, error) {
		var n int64
		err := c.db.QueryRowContext(ctx, query, args...).Scan(&n)
		return n, err
	}, schema, table)
}

// countQueryFunc runs one scalar count query.
type countQueryFunc func(ctx context.Context, query string, args ...any) (int64, error)

func estimateRowCount(ctx context.Context, run countQueryFunc, schema, table string) (int64, error) {
	const statsQ = `
		SELECT reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`
	if n, err := run(ctx, statsQ, schema, table); err == nil && n > 0 {
		return n, nil
	}

	sampledQ := fmt.Sprintf(`SELECT (count(*) * 100)::bigint FROM %s TABLESAMPLE SYSTEM (1)`,
		QualifiedTable(schema, table))
	if n, err := run(ctx, sampledQ); err == nil && n > 0 {
		return n, nil
	}

	return run(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, QualifiedTable(schema, table)))
}

// QualifiedTable quotes a schema-qualified table reference.
func QualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
