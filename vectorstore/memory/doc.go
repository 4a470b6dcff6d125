// Package memory provides an in-process vectorstore.Store backed by maps,
// for unit tests and local development without a database.
package memory
