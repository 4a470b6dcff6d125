// Package metadata persists ingestion jobs and source identifier mappings
// in the relational metadata store.
//
// The JobStore contract covers the job lifecycle (create, read, update with
// state-transition enforcement) plus the alternate-id mapping and source
// metadata lookups the collection resolver depends on. Backends: postgres
// for production, memory for tests.
package metadata
