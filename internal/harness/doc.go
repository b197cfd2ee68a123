// Package harness runs YAML scenarios against a fresh evidence ledger.
//
// A scenario is a list of steps (captures, record registrations, ledger
// appends, crash-left orphan segments, reconciliation) followed by
// assertions over the resulting ledger and provenance audit.
//
// # Scenario Format
//
//	name: capture_and_derive
//	description: "OCR output derived from one captured frame"
//	steps:
//	  - op: capture
//	    as: frame
//	    payload: "frame-1"
//	    metadata: { app: firefox }
//	  - op: record
//	    id: ocr-1
//	    type: derived.text.ocr
//	  - op: ledger
//	    stage: derived.extract
//	    outputs: [ocr-1]
//	assertions:
//	  - type: audit_ok
//	  - type: ledger_order
//	    stages: [capture, segment.seal, derived.extract]
//
// A capture or orphan step with "as" binds the new segment id to a name;
// later steps and assertions refer to it as "$name".
//
// # Assertion Types
//
//   - audit_ok: no record has a provenance gap
//   - audit_gap: record is reported with exactly the missing stages
//   - ledger_count: stage appears in exactly count entries
//   - ledger_order: stages first appear in the given order
//   - segment_count: the segment store holds exactly count segments
//   - unknown_types: audit reports exactly these unknown record types
//
// # Deterministic Execution
//
// Every run uses its own temporary data directory, an in-memory blob
// store, a stepping capture clock starting at the scenario's start time,
// a pinned ledger clock and sequential ledger entry ids. Identical
// scenarios therefore produce identical traces for golden comparison.
package harness
