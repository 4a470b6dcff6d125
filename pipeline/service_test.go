package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/indexit/ai/mock"
	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/document"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/metadata"
	"github.com/poiesic/indexit/pipeline"
	"github.com/poiesic/indexit/vectorstore"
	"github.com/poiesic/indexit/vectorstore/memory"
	"github.com/poiesic/indexit/warehouse"
)

type testEnv struct {
	service *pipeline.Service
	jobs    *metadata.MemoryStore
	store   *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orchestrator, err := embedding.NewOrchestrator(mock.NewMockEmbedder(8), 8)
	require.NoError(t, err)

	store := memory.NewStore()
	jobs := metadata.NewMemoryStore()
	resolver, err := vectorstore.NewResolver(store, jobs)
	require.NoError(t, err)
	ingestor, err := vectorstore.NewIngestor(store)
	require.NoError(t, err)

	dispatcher, err := document.NewDispatcher(
		document.DefaultRegistry(), orchestrator, resolver, ingestor, jobs,
		document.WithCollectionDefaults(8, core.MetricCosine),
	)
	require.NoError(t, err)

	service, err := pipeline.NewService(dispatcher, jobs, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	return &testEnv{service: service, jobs: jobs, store: store}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// waitForTerminal polls until the job reaches a terminal state.
func waitForTerminal(t *testing.T, service *pipeline.Service, jobID string) *core.IngestionJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := service.JobStatus(context.Background(), jobID)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return nil
}

func TestService_FileIngestionCompletes(t *testing.T) {
	env := newTestEnv(t)
	path := writeTempFile(t, "notes.txt",
		"Quarterly revenue grew across all regions. The new warehouse went live in March.")

	jobID, err := env.service.StartFileIngestion(context.Background(), path, "42", "org-1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job := waitForTerminal(t, env.service, jobID)
	assert.Equal(t, core.JobCompleted, job.State)
	assert.Equal(t, 100, job.ProgressPercent)
	assert.Greater(t, job.ChunkCount, 0)
	assert.Equal(t, job.ChunkCount, env.store.PointCount("datasource_42"))
}

func TestService_FailedIngestionRecordsError(t *testing.T) {
	env := newTestEnv(t)
	path := writeTempFile(t, "binary.zzz", "whatever")

	jobID, err := env.service.StartFileIngestion(context.Background(), path, "42", "org-1")
	require.NoError(t, err)

	job := waitForTerminal(t, env.service, jobID)
	assert.Equal(t, core.JobError, job.State)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestService_ConcurrentIngestions(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for i := 0; i < 5; i++ {
		path := writeTempFile(t, "doc.txt", "Short document used to exercise the worker pool.")
		jobID, err := env.service.StartFileIngestion(context.Background(), path, "42", "org-1")
		require.NoError(t, err)
		ids = append(ids, jobID)
	}
	for _, id := range ids {
		job := waitForTerminal(t, env.service, id)
		assert.Equal(t, core.JobCompleted, job.State)
	}
}

func TestService_CancelUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.service.CancelJob("nope"), pipeline.ErrJobNotRunning)
}

func TestService_CancelFinishedJob(t *testing.T) {
	env := newTestEnv(t)
	path := writeTempFile(t, "doc.txt", "A document that finishes quickly.")

	jobID, err := env.service.StartFileIngestion(context.Background(), path, "42", "org-1")
	require.NoError(t, err)
	waitForTerminal(t, env.service, jobID)

	// Once the worker has unregistered, the job is no longer cancellable.
	require.Eventually(t, func() bool {
		return env.service.CancelJob(jobID) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_ClosedServiceRejectsWork(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.service.Close())

	_, err := env.service.StartFileIngestion(context.Background(), "ignored.txt", "42", "org-1")
	assert.ErrorIs(t, err, pipeline.ErrServiceClosed)
}

func TestService_WarehouseIndexingNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.StartSchemaIndexing(context.Background(), "42", "dw", "public")
	assert.ErrorIs(t, err, pipeline.ErrIndexerNotConfigured)

	meta := &core.TableMetadata{SourceID: "42", Database: "dw", Schema: "public", Table: "orders"}
	_, err = env.service.StartRowIndexing(context.Background(), meta)
	assert.ErrorIs(t, err, pipeline.ErrIndexerNotConfigured)
}

// stubWarehouse serves one table's rows for any row query.
type stubWarehouse struct {
	table   string
	columns []core.ColumnMetadata
	rows    []map[string]any
}

func (c *stubWarehouse) ExecuteQuery(context.Context, string, string) (*warehouse.QueryResult, error) {
	cols := make([]string, len(c.columns))
	for i, col := range c.columns {
		cols[i] = col.Name
	}
	return &warehouse.QueryResult{Columns: cols, Rows: c.rows}, nil
}

func (c *stubWarehouse) ListTables(context.Context, string, string, string) ([]string, error) {
	return []string{c.table}, nil
}

func (c *stubWarehouse) DescribeTable(context.Context, string, string, string, string) ([]core.ColumnMetadata, error) {
	return c.columns, nil
}

func (c *stubWarehouse) EstimateRowCount(context.Context, string, string, string, string) (int64, error) {
	return int64(len(c.rows)), nil
}

func (c *stubWarehouse) Close() error { return nil }

func TestService_RowIndexingRecordsZeroFilledRows(t *testing.T) {
	columns := []core.ColumnMetadata{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "status", Type: "text"},
	}
	rows := make([]map[string]any, 6)
	for i := range rows {
		rows[i] = map[string]any{"id": int64(i + 1), "status": "open"}
	}
	client := &stubWarehouse{table: "orders", columns: columns, rows: rows}

	embedder := mock.NewMockEmbedder(8)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model unavailable")
	}
	orchestrator, err := embedding.NewOrchestrator(embedder, 8)
	require.NoError(t, err)

	store := memory.NewStore()
	jobs := metadata.NewMemoryStore()
	resolver, err := vectorstore.NewResolver(store, jobs)
	require.NoError(t, err)
	ingestor, err := vectorstore.NewIngestor(store)
	require.NoError(t, err)

	indexer, err := warehouse.NewRowLevelIndexer(client, orchestrator, resolver, ingestor,
		warehouse.WithRowCollectionDefaults(8, core.MetricCosine))
	require.NoError(t, err)

	dispatcher, err := document.NewDispatcher(
		document.DefaultRegistry(), orchestrator, resolver, ingestor, jobs,
		document.WithCollectionDefaults(8, core.MetricCosine),
	)
	require.NoError(t, err)
	service, err := pipeline.NewService(dispatcher, jobs, 2, pipeline.WithRowIndexer(indexer))
	require.NoError(t, err)
	defer service.Close()

	meta := &core.TableMetadata{
		SourceID: "42", Database: "dw", Schema: "public", Table: "orders",
		RowCount: 6, Columns: columns,
	}
	jobID, err := service.StartRowIndexing(context.Background(), meta)
	require.NoError(t, err)

	// The job completes with zero-vector substitutes, and the affected row
	// ranges land in the job metadata next to the coverage counters.
	job := waitForTerminal(t, service, jobID)
	assert.Equal(t, core.JobCompleted, job.State)
	assert.Equal(t, "6", job.Metadata["rows_processed"])
	assert.Equal(t, "0-6", job.Metadata["zero_filled_rows"])
	assert.NotContains(t, job.Metadata, "skipped_chunks")
}

type recordingSink struct {
	mu     sync.Mutex
	states []core.JobState
}

func (s *recordingSink) JobProgress(_ string, state core.JobState, _ int, _ string) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *recordingSink) seen(want core.JobState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st == want {
			return true
		}
	}
	return false
}

func TestService_ProgressSinkObservesLifecycle(t *testing.T) {
	sink := &recordingSink{}

	orchestrator, err := embedding.NewOrchestrator(mock.NewMockEmbedder(8), 8)
	require.NoError(t, err)
	store := memory.NewStore()
	jobs := metadata.NewMemoryStore()
	resolver, err := vectorstore.NewResolver(store, jobs)
	require.NoError(t, err)
	ingestor, err := vectorstore.NewIngestor(store)
	require.NoError(t, err)

	dispatcher, err := document.NewDispatcher(
		document.DefaultRegistry(), orchestrator, resolver, ingestor, jobs,
		document.WithCollectionDefaults(8, core.MetricCosine),
		document.WithProgress(func(jobID string, state core.JobState, percent int, message string) {
			sink.JobProgress(jobID, state, percent, message)
		}),
	)
	require.NoError(t, err)

	service, err := pipeline.NewService(dispatcher, jobs, 2, pipeline.WithSink(sink))
	require.NoError(t, err)
	defer service.Close()

	path := writeTempFile(t, "doc.txt", "Progress events flow through the sink.")
	jobID, err := service.StartFileIngestion(context.Background(), path, "42", "org-1")
	require.NoError(t, err)
	waitForTerminal(t, service, jobID)

	assert.True(t, sink.seen(core.JobProcessing))
	assert.True(t, sink.seen(core.JobCompleted))
}

func TestNewService_Validation(t *testing.T) {
	jobs := metadata.NewMemoryStore()
	_, err := pipeline.NewService(nil, jobs, 2)
	assert.ErrorIs(t, err, pipeline.ErrDispatcherRequired)
}
