// Package document selects a format extractor by file kind and drives files
// through the ingestion pipeline.
//
// Extractors turn one format into plain text (run through the chunking
// engine) or pre-chunked row units (CSV and spreadsheets, which combine
// many rows per chunk). The dispatcher owns the per-job state machine:
// Pending -> Processing{loading, extracting, chunking, embedding,
// ensuring_collection, upserting} -> Completed | Error.
package document
