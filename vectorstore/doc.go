// Package vectorstore defines the contract against the vector database and
// the two components built directly on it: the collection resolver and the
// point ingestor.
//
// The Store interface is deliberately narrow (exists, create, list, upsert,
// search, delete). Backends live in subpackages: pgvector for Postgres with
// the pgvector extension, memory for an in-process test double.
//
// The Resolver bridges identifier drift between upstream systems and live
// collection names; the Ingestor handles idempotent collection creation and
// batched, retried upserts.
package vectorstore
