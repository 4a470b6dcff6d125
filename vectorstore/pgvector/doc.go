// Package pgvector implements vectorstore.Store on Postgres with the
// pgvector extension. Each collection is a registry row plus its own point
// table with an hnsw index matched to the collection's distance metric.
package pgvector
