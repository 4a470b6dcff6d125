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


package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/poiesic/indexit/core"
)

const pgConnectTimeout = 30 * time.Second

// PostgresStore is a JobStore on Postgres via the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and bootstraps the
// job and identifier-mapping tables.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pgConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) bootstrap(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS ingestion_jobs (
			id              text PRIMARY KEY,
			source_id       text NOT NULL,
			organization_id text NOT NULL DEFAULT '',
			kind            text NOT NULL,
			state           text NOT NULL,
			phase           text NOT NULL DEFAULT '',
			progress        integer NOT NULL DEFAULT 0,
			chunk_count     integer NOT NULL DEFAULT 0,
			error_message   text NOT NULL DEFAULT '',
			metadata        jsonb NOT NULL DEFAULT '{}',
			created_at      timestamptz NOT NULL DEFAULT now(),
			updated_at      timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS ingestion_jobs_source_idx ON ingestion_jobs (source_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS alternate_ids (
			alternate_id text PRIMARY KEY,
			source_id    text NOT NULL
		);
		CREATE TABLE IF NOT EXISTS source_metadata (
			source_id text PRIMARY KEY,
			metadata  jsonb NOT NULL DEFAULT '{}'
		);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *core.IngestionJob) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	if job.ID == "" {
		return fmt.Errorf("%w: empty id", core.ErrInvalidJob)
	}

	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	const q = `
		INSERT INTO ingestion_jobs
			(id, source_id, organization_id, kind, state, phase, progress, chunk_count, error_message, metadata, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE(NULLIF($11, '0001-01-01T00:00:00Z'::timestamptz), now()), now())
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, q,
		job.ID, job.SourceID, job.OrganizationID, job.Kind.String(), job.State.String(),
		string(job.Phase), job.ProgressPercent, job.ChunkCount, job.ErrorMessage, meta, job.CreatedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%q: %w", job.ID, ErrJobExists)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	const q = `
		SELECT id, source_id, organization_id, kind, state, phase, progress, chunk_count, error_message, metadata, created_at, updated_at
		FROM ingestion_jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *core.IngestionJob) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}

	current, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.State != job.State && !current.State.CanTransitionTo(job.State) {
		return fmt.Errorf("%s -> %s: %w", current.State, job.State, core.ErrInvalidTransition)
	}

	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	const q = `
		UPDATE ingestion_jobs
		SET state = $2, phase = $3, progress = $4, chunk_count = $5, error_message = $6, metadata = $7, updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, q,
		job.ID, job.State.String(), string(job.Phase), job.ProgressPercent,
		job.ChunkCount, job.ErrorMessage, meta)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%q: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

func (s *PostgresStore) ListJobsBySource(ctx context.Context, sourceID string) ([]*core.IngestionJob, error) {
	const q = `
		SELECT id, source_id, organization_id, kind, state, phase, progress, chunk_count, error_message, metadata, created_at, updated_at
		FROM ingestion_jobs
		WHERE source_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*core.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) LookupAlternateID(ctx context.Context, alternateID string) (string, error) {
	const q = `SELECT source_id FROM alternate_ids WHERE alternate_id = $1`
	var sourceID string
	err := s.db.QueryRowContext(ctx, q, alternateID).Scan(&sourceID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sourceID, nil
}

func (s *PostgresStore) PutAlternateID(ctx context.Context, alternateID, sourceID string) error {
	const q = `
		INSERT INTO alternate_ids (alternate_id, source_id)
		VALUES ($1, $2)
		ON CONFLICT (alternate_id) DO UPDATE SET source_id = EXCLUDED.source_id
	`
	_, err := s.db.ExecContext(ctx, q, alternateID, sourceID)
	return err
}

func (s *PostgresStore) SourceMetadata(ctx context.Context, sourceID string) (map[string]string, error) {
	const q = `SELECT metadata FROM source_metadata WHERE source_id = $1`
	var raw []byte
	err := s.db.QueryRowContext(ctx, q, sourceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata for %q: %w", sourceID, err)
	}
	return meta, nil
}

func (s *PostgresStore) PutSourceMetadata(ctx context.Context, sourceID string, meta map[string]string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	const q = `
		INSERT INTO source_metadata (source_id, metadata)
		VALUES ($1, $2)
		ON CONFLICT (source_id) DO UPDATE SET metadata = EXCLUDED.metadata
	`
	_, err = s.db.ExecContext(ctx, q, sourceID, raw)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.IngestionJob, error) {
	var (
		job   core.IngestionJob
		kind  string
		state string
		phase string
		meta  []byte
	)
	err := row.Scan(&job.ID, &job.SourceID, &job.OrganizationID, &kind, &state, &phase,
		&job.ProgressPercent, &job.ChunkCount, &job.ErrorMessage, &meta, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.Kind = parseKind(kind)
	job.State = parseState(state)
	job.Phase = core.ProcessingPhase(phase)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for %q: %w", job.ID, err)
		}
	}
	return &job, nil
}

func parseKind(s string) core.JobKind {
	switch s {
	case "file":
		return core.JobKindFile
	case "table":
		return core.JobKindTable
	default:
		return 0
	}
}

func parseState(s string) core.JobState {
	switch s {
	case "pending":
		return core.JobPending
	case "processing":
		return core.JobProcessing
	case "completed":
		return core.JobCompleted
	case "error":
		return core.JobError
	default:
		return 0
	}
}
