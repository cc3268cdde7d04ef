// Package documents persists document records and exposes helpers for driving
// their pipeline lifecycle.
//
// The Store manages database connections, schema initialization, soft-delete
// semantics, the append-only audit log, playbook run records, and dashboard
// aggregation. Document records capture pipeline artifacts (extracted text,
// key-value pairs, embeddings) so a redelivered task can resume without
// repeating completed stages.
//
// Treat this package as the single source of truth for document lifecycle
// semantics; when you add new statuses or fields, update schema.sql and bump
// schemaVersion.
package documents
