// Package store provides SQLite-backed metadata storage for the evidence
// ledger.
//
// The store holds:
//   - Ledger entries: append-only stage transitions and the record ids they output
//   - Records: evidence and derived artifacts with their record type
//   - Segments: an index of capture segments already written to the spool
//
// # Schema Evolution
//
// The schema is evolved forward-only by numbered migrations tracked in the
// schema_migrations table. Each migration runs in its own transaction
// together with its tracking row, so a failed migration leaves earlier ones
// committed and itself unrecorded. PRAGMA user_version mirrors the highest
// applied version.
//
// # Deterministic Reads
//
//   - Ledger order is seq ASC, id ASC COLLATE BINARY; seq is assigned on append
//   - Records are returned by id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
