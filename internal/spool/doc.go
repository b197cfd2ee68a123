// Package spool is the durable, idempotent segment store.
//
// Each capture segment lives in its own file, <root>/<segment_id>.json,
// holding the segment's canonical JSON. The store needs no lock manager:
// the segment id is the lock.
//
// # Write protocol
//
//  1. Serialize the segment canonically (identical content, identical bytes)
//  2. Write it to a temp file in the root (fsync when enabled)
//  3. Hard-link the temp file to the final name; link fails if the name exists
//  4. fsync the root directory when enabled
//
// A reader therefore never observes a half-written segment under its final
// name, and concurrent appends of the same id race only on step 3.
//
// # Conflicts
//
// When the final name already exists the stored bytes are parsed and
// compared with the new ones:
//
//   - unparsable: SPOOL_CORRUPT, left untouched for operator inspection
//   - byte-identical: idempotent success (Unchanged)
//   - different: SPOOL_COLLISION, a non-unique id bug upstream
//
// Segments are never modified or deleted by this package.
package spool
