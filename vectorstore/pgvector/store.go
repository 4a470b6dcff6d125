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


package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/vectorstore"
)

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	connectTimeout         = 30 * time.Second
)

// Store is a vectorstore.Store on Postgres with the pgvector extension.
//
// Collections are tracked in a registry table; each collection gets its own
// point table with an id, an embedding of the registered dimension, and a
// jsonb payload. Upserts go through ON CONFLICT so re-writing a point id
// never duplicates rows.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool against dsn and bootstraps the vector
// extension and the collection registry.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	const ddl = `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS vector_collections (
			name       text PRIMARY KEY,
			dimension  integer NOT NULL,
			metric     text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM vector_collections WHERE name = $1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CreateCollection(ctx context.Context, spec core.CollectionSpec) error {
	if err := core.ValidateCollectionSpec(spec); err != nil {
		return err
	}

	existing, err := s.lookupSpec(ctx, spec.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Dimension != spec.Dimension {
			return fmt.Errorf("collection %q has dimension %d: %w",
				spec.Name, existing.Dimension, core.ErrDimensionMismatch)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	const register = `
		INSERT INTO vector_collections (name, dimension, metric)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, register, spec.Name, spec.Dimension, string(spec.Metric)); err != nil {
		_ = tx.Rollback()
		return err
	}

	table := pointTable(spec.Name)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        uuid PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload   jsonb NOT NULL DEFAULT '{}'
		)`, table, spec.Dimension)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return err
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding %s)`,
		table, table, opclass(spec.Metric))
	if _, err := tx.ExecContext(ctx, idx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	const q = `SELECT name FROM vector_collections ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, collection string, points []core.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	spec, err := s.lookupSpec(ctx, collection)
	if err != nil {
		return err
	}
	if spec == nil {
		return fmt.Errorf("%q: %w", collection, vectorstore.ErrCollectionNotFound)
	}
	for i := range points {
		if err := core.ValidatePoint(&points[i], spec.Dimension); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
	`, pointTable(collection))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range points {
		p := &points[i]
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshaling payload for point %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, pgvector.NewVector(p.Vector), payload); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, filter map[string]any, limit int) ([]vectorstore.ScoredPoint, error) {
	if limit < 1 {
		return nil, vectorstore.ErrInvalidLimit
	}

	spec, err := s.lookupSpec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("%q: %w", collection, vectorstore.ErrCollectionNotFound)
	}
	if len(vector) != spec.Dimension {
		return nil, fmt.Errorf("query has %d dimensions, collection %q has %d: %w",
			len(vector), collection, spec.Dimension, core.ErrDimensionMismatch)
	}

	args := []any{pgvector.NewVector(vector), limit}
	where := ""
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
		where = "WHERE payload @> $3::jsonb"
		args = append(args, filterJSON)
	}

	q := fmt.Sprintf(`
		SELECT id, %s AS score, payload
		FROM %s
		%s
		ORDER BY score DESC
		LIMIT $2
	`, scoreExpr(spec.Metric), pointTable(collection), where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorstore.ScoredPoint
	for rows.Next() {
		var (
			hit     vectorstore.ScoredPoint
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Score, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &hit.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling payload for point %s: %w", hit.ID, err)
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pointTable(name))); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = $1`, name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) lookupSpec(ctx context.Context, name string) (*core.CollectionSpec, error) {
	const q = `SELECT name, dimension, metric FROM vector_collections WHERE name = $1`
	var (
		spec   core.CollectionSpec
		metric string
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&spec.Name, &spec.Dimension, &metric)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	spec.Metric = core.DistanceMetric(metric)
	return &spec, nil
}

// pointTable maps a collection name to its backing table. Collection names
// come from the resolver's fixed prefix conventions, but the mapping still
// strips anything outside [a-z0-9_] so the name is always embeddable as an
// identifier.
func pointTable(collection string) string {
	var b strings.Builder
	b.WriteString("vec_")
	for _, r := range strings.ToLower(collection) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func opclass(metric core.DistanceMetric) string {
	switch metric {
	case core.MetricL2:
		return "vector_l2_ops"
	case core.MetricDot:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// scoreExpr converts the metric's distance operator to a higher-is-better
// score. <#> already returns the negated inner product.
func scoreExpr(metric core.DistanceMetric) string {
	switch metric {
	case core.MetricL2:
		return "-(embedding <-> $1)"
	case core.MetricDot:
		return "-(embedding <#> $1)"
	default:
		return "1 - (embedding <=> $1)"
	}
}
