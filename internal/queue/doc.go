// Package queue persists video jobs in SQLite and exposes the lifecycle
// operations the dispatcher and API build on.
//
// The jobs table is both the durable job record and the queue: a queued job
// row is a queue entry for its current stage ordinal, so crash recovery is a
// single UPDATE over rows whose execution lease expired. Workers claim a job
// with an atomic lease grant and every subsequent mutation is guarded by the
// lease owner, which guarantees at most one worker drives a job at any
// instant. Stage attempts are appended to a separate audit table that the
// status surface reads verbatim.
//
// Treat this package as the single source of truth for job semantics; when
// you add new states or columns, update schema.sql and bump schemaVersion.
package queue
