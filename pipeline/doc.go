// Package pipeline is the asynchronous front door of the ingestion system.
//
// A Service accepts ingestion requests, records them as jobs and runs them
// on a bounded worker pool: file ingestion through the document dispatcher,
// schema-level and row-level warehouse indexing through their indexers.
// Callers poll job status and may cancel a running job cooperatively.
package pipeline
