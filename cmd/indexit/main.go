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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/indexit/ai"
	"github.com/poiesic/indexit/ai/openai"
	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/document"
	"github.com/poiesic/indexit/embedding"
	"github.com/poiesic/indexit/metadata"
	"github.com/poiesic/indexit/pipeline"
	"github.com/poiesic/indexit/vectorstore"
	"github.com/poiesic/indexit/vectorstore/pgvector"
	"github.com/poiesic/indexit/warehouse"
)

func main() {
	// Flags take precedence; the .env file only fills missing environment.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "indexit",
		Usage: "Document and warehouse ingestion into a vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest a document file into the vector index",
				Action: ingestCommand,
				Flags: append(stackFlags(),
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the document to ingest",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "org-id",
						Usage: "Organization the source belongs to",
					},
				),
			},
			{
				Name:   "index-schema",
				Usage:  "Index a warehouse schema's table metadata",
				Action: indexSchemaCommand,
				Flags: append(stackFlags(),
					&cli.StringFlag{
						Name:  "database",
						Usage: "Warehouse database name",
						Value: "postgres",
					},
					&cli.StringFlag{
						Name:  "schema",
						Usage: "Warehouse schema name",
						Value: "public",
					},
					&cli.StringFlag{
						Name:  "cache-dir",
						Usage: "Directory for the table metadata cache (empty disables caching)",
					},
				),
			},
			{
				Name:   "index-rows",
				Usage:  "Index every row of a warehouse table",
				Action: indexRowsCommand,
				Flags: append(stackFlags(),
					&cli.StringFlag{
						Name:  "database",
						Usage: "Warehouse database name",
						Value: "postgres",
					},
					&cli.StringFlag{
						Name:  "schema",
						Usage: "Warehouse schema name",
						Value: "public",
					},
					&cli.StringFlag{
						Name:     "table",
						Usage:    "Table to index",
						Required: true,
					},
					&cli.Int64Flag{
						Name:  "chunk-size",
						Usage: "Rows per processing chunk",
						Value: warehouse.DefaultRowChunkSize,
					},
				),
			},
			{
				Name:   "status",
				Usage:  "Show the state of an ingestion job",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job-id",
						Usage:    "Job identifier returned by an ingest command",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "metadata-dsn",
						Usage:   "Postgres DSN for the job metadata store",
						EnvVars: []string{"INDEXIT_METADATA_DSN"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// stackFlags are the flags every indexing command shares.
func stackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "source-id",
			Aliases:  []string{"s"},
			Usage:    "Data source identifier",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "vector-dsn",
			Usage:   "Postgres DSN for the pgvector store",
			EnvVars: []string{"INDEXIT_VECTOR_DSN"},
		},
		&cli.StringFlag{
			Name:    "metadata-dsn",
			Usage:   "Postgres DSN for the job metadata store",
			EnvVars: []string{"INDEXIT_METADATA_DSN"},
		},
		&cli.StringFlag{
			Name:    "warehouse-dsn",
			Usage:   "Postgres DSN for the source warehouse",
			EnvVars: []string{"INDEXIT_WAREHOUSE_DSN"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			EnvVars: []string{"INDEXIT_EMBEDDING_HOST"},
			Value:   "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:     "embedding-model",
			Usage:    "Embedding model name",
			EnvVars:  []string{"INDEXIT_EMBEDDING_MODEL"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "embedding-token",
			Usage:   "API token for the embedding service",
			EnvVars: []string{"INDEXIT_EMBEDDING_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "dimension",
			Usage:   "Vector dimension the embedding model produces",
			EnvVars: []string{"INDEXIT_EMBEDDING_DIM"},
			Value:   core.DefaultDimension,
		},
	}
}

// stack bundles the collaborators the indexing commands share.
type stack struct {
	jobs         metadata.JobStore
	store        vectorstore.Store
	orchestrator *embedding.Orchestrator
	resolver     *vectorstore.Resolver
	ingestor     *vectorstore.Ingestor
	dimension    int
}

func (s *stack) close() {
	_ = s.jobs.Close()
	_ = s.store.Close()
}

func buildStack(ctx context.Context, c *cli.Context) (*stack, error) {
	vectorDSN := c.String("vector-dsn")
	if vectorDSN == "" {
		return nil, fmt.Errorf("vector-dsn is required (flag or INDEXIT_VECTOR_DSN)")
	}
	metadataDSN := c.String("metadata-dsn")
	if metadataDSN == "" {
		return nil, fmt.Errorf("metadata-dsn is required (flag or INDEXIT_METADATA_DSN)")
	}

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAPIToken(c.String("embedding-token")),
		ai.WithDimension(c.Int("dimension")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	orchestrator, err := embedding.NewOrchestrator(embedder, aiConfig.Dimension)
	if err != nil {
		return nil, err
	}

	store, err := pgvector.NewStore(ctx, vectorDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	jobs, err := metadata.NewPostgresStore(ctx, metadataDSN)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	resolver, err := vectorstore.NewResolver(store, jobs)
	if err != nil {
		_ = store.Close()
		_ = jobs.Close()
		return nil, err
	}
	ingestor, err := vectorstore.NewIngestor(store)
	if err != nil {
		_ = store.Close()
		_ = jobs.Close()
		return nil, err
	}

	return &stack{
		jobs:         jobs,
		store:        store,
		orchestrator: orchestrator,
		resolver:     resolver,
		ingestor:     ingestor,
		dimension:    aiConfig.Dimension,
	}, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := buildStack(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	dispatcher, err := document.NewDispatcher(
		document.DefaultRegistry(), s.orchestrator, s.resolver, s.ingestor, s.jobs,
		document.WithCollectionDefaults(s.dimension, core.MetricCosine),
		document.WithProgress(pipeline.LogSink{}.JobProgress),
	)
	if err != nil {
		return err
	}

	service, err := pipeline.NewService(dispatcher, s.jobs, 1)
	if err != nil {
		return err
	}

	path := c.String("file")
	jobID, err := service.StartFileIngestion(ctx, path, c.String("source-id"), c.String("org-id"))
	if err != nil {
		_ = service.Close()
		return fmt.Errorf("starting ingestion: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Job: %s\nFile: %s\n", jobID, path)

	// Close waits for the running job before releasing the pool.
	if err := service.Close(); err != nil {
		return err
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	printJob(job)
	if job.State == core.JobError {
		return fmt.Errorf("ingestion failed: %s", job.ErrorMessage)
	}
	return nil
}

func indexSchemaCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := buildStack(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	client, err := warehouseClient(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []warehouse.SchemaIndexerOption{
		warehouse.WithSchemaCollectionDefaults(s.dimension, core.MetricCosine),
	}
	if dir := c.String("cache-dir"); dir != "" {
		cache, err := warehouse.OpenMetadataCache(dir, false)
		if err != nil {
			return fmt.Errorf("opening metadata cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, warehouse.WithMetadataCache(cache))
	}

	indexer, err := warehouse.NewSchemaIndexer(client, s.orchestrator, s.resolver, s.ingestor, nil, opts...)
	if err != nil {
		return err
	}

	stats, err := indexer.IndexSchema(ctx, c.String("source-id"), c.String("database"), c.String("schema"))
	if err != nil {
		return fmt.Errorf("schema indexing failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Collection: %s\n", stats.Collection)
	fmt.Fprintf(os.Stderr, "Tables indexed: %d (failed: %d)\n", stats.Tables, stats.TablesFailed)
	fmt.Fprintf(os.Stderr, "Relationships: %d\n", stats.Relationships)
	fmt.Fprintf(os.Stderr, "Points written: %d in %v\n", stats.PointsWritten, stats.Elapsed.Round(time.Millisecond))
	return nil
}

func indexRowsCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := buildStack(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	client, err := warehouseClient(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	sourceID := c.String("source-id")
	database := c.String("database")
	schema := c.String("schema")
	table := c.String("table")

	columns, err := client.DescribeTable(ctx, sourceID, database, schema, table)
	if err != nil {
		return fmt.Errorf("describing table %s: %w", table, err)
	}
	meta := &core.TableMetadata{
		SourceID: sourceID,
		Database: database,
		Schema:   schema,
		Table:    table,
		Columns:  columns,
	}

	indexer, err := warehouse.NewRowLevelIndexer(client, s.orchestrator, s.resolver, s.ingestor,
		warehouse.WithRowChunkSize(c.Int64("chunk-size")),
		warehouse.WithRowCollectionDefaults(s.dimension, core.MetricCosine),
	)
	if err != nil {
		return err
	}

	stats, err := indexer.IndexTable(ctx, meta)
	if err != nil {
		return fmt.Errorf("row indexing failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Rows processed: %d/%d\n", stats.RowsProcessed, stats.TotalRows)
	fmt.Fprintf(os.Stderr, "Chunks: %d (skipped: %d), concurrency %d, elapsed %v\n",
		stats.ChunksTotal, len(stats.ChunksFailed), stats.Concurrency, stats.Elapsed.Round(time.Millisecond))
	if len(stats.ChunksFailed) > 0 {
		return fmt.Errorf("row indexing incomplete: %d chunks skipped", len(stats.ChunksFailed))
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	ctx := context.Background()

	dsn := c.String("metadata-dsn")
	if dsn == "" {
		return fmt.Errorf("metadata-dsn is required (flag or INDEXIT_METADATA_DSN)")
	}
	jobs, err := metadata.NewPostgresStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer jobs.Close()

	job, err := jobs.GetJob(ctx, c.String("job-id"))
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func warehouseClient(ctx context.Context, c *cli.Context) (*warehouse.PostgresQueryClient, error) {
	dsn := c.String("warehouse-dsn")
	if dsn == "" {
		return nil, fmt.Errorf("warehouse-dsn is required (flag or INDEXIT_WAREHOUSE_DSN)")
	}
	client, err := warehouse.NewPostgresQueryClient(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	return client, nil
}

func printJob(job *core.IngestionJob) {
	fmt.Printf("Job:      %s\n", job.ID)
	fmt.Printf("Source:   %s\n", job.SourceID)
	fmt.Printf("Kind:     %s\n", job.Kind)
	fmt.Printf("State:    %s", job.State)
	if job.Phase != "" {
		fmt.Printf(" (%s)", job.Phase)
	}
	fmt.Printf("\nProgress: %d%%\n", job.ProgressPercent)
	if job.ChunkCount > 0 {
		fmt.Printf("Chunks:   %d\n", job.ChunkCount)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", job.ErrorMessage)
	}
	if len(job.Metadata) > 0 {
		fmt.Println("Metadata:")
		for k, v := range job.Metadata {
			fmt.Printf("  %s: %s\n", k, v)
		}
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
