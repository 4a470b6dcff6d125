// Package warehouse indexes relational warehouse tables into the vector
// store.
//
// Two indexers share the query-client contract. The schema indexer
// enumerates a schema, samples each table with a size-tiered strategy,
// detects relationships, and embeds table descriptions. The row-level
// indexer covers every row of a table (not a sample) in independent
// row-offset chunks, with concurrency computed from live memory and CPU
// headroom.
//
// Table metadata is cached in-process and on local disk (badger), refreshed
// when the observed row count drifts from the cached value.
package warehouse
