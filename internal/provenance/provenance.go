// Package provenance decides whether records have the ledger-recorded stage
// transitions their type requires.
//
// Requirements are a fixed table keyed by record type. Everything here is a
// pure function of its inputs, so audits are always re-derivable from the
// full ledger.
package provenance

import (
	"slices"

	"github.com/roach88/evidenceledger/internal/ir"
)

// Coverage classifies a record type against the requirement table.
type Coverage int

const (
	// CoverageUnknown means the type is not in the table. It carries no
	// obligation, but audits report it so a misspelt type is noticed.
	CoverageUnknown Coverage = iota
	// CoverageRequired means the type has at least one required stage.
	CoverageRequired
	// CoverageExempt means the type is listed with no required stages.
	CoverageExempt
)

func (c Coverage) String() string {
	switch c {
	case CoverageRequired:
		return "required"
	case CoverageExempt:
		return "exempt"
	default:
		return "unknown"
	}
}

var requiredByType = map[string][]string{
	"evidence.capture.segment": {StageCapture, StageSegmentSeal},
	"evidence.window.meta":     {StageWindowMeta},
	"derived.text.ocr":         {StageDerivedExtract},
	"derived.text.vlm":         {StageDerivedExtract},
	"derived.graph.edge":       {StageDerivedExtract},
	"derived.graph.node":       {StageDerivedExtract},
	"derived.input.summary":    {StageDerivedInput},
	"derived.audio.transcript": {StageDerivedAudio},
	"derived.cursor.track":     {StageDerivedCursor},
	"derived.screen.state":     {StageDerivedScreen},

	"system.heartbeat":       {},
	"system.config.snapshot": {},
}

// RecordTypeSegment is the record type registered for each capture segment.
const RecordTypeSegment = "evidence.capture.segment"

// Classify reports how recordType is covered.
func Classify(recordType string) Coverage {
	stages, ok := requiredByType[recordType]
	switch {
	case !ok:
		return CoverageUnknown
	case len(stages) == 0:
		return CoverageExempt
	default:
		return CoverageRequired
	}
}

// RequiredTransitions returns the stages recordType must have. Unknown and
// exempt types return an empty set. The result is a fresh copy.
func RequiredTransitions(recordType string) StageSet {
	return NewStageSet(requiredByType[recordType]...)
}

// RecordTypes lists every type in the table, sorted.
func RecordTypes() []string {
	types := make([]string, 0, len(requiredByType))
	for t := range requiredByType {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// stagesSeen indexes which stages list each record id as an output.
// Entries with an empty stage are skipped; the second result counts them.
// Stages match byte for byte, so a padded name covers nothing.
func stagesSeen(entries []ir.LedgerEntry) (map[string]StageSet, int) {
	seen := make(map[string]StageSet)
	partial := 0
	for _, e := range entries {
		if e.Partial() {
			partial++
			continue
		}
		for _, out := range e.Outputs {
			set, ok := seen[out]
			if !ok {
				set = make(StageSet)
				seen[out] = set
			}
			set.Add(e.Stage)
		}
	}
	return seen, partial
}

// MissingTransitions maps each record id with incomplete provenance to the
// stages it lacks. Records that are complete, exempt or of unknown type are
// omitted, so an empty result means full completeness.
func MissingTransitions(records []ir.Record, entries []ir.LedgerEntry) map[string]StageSet {
	seen, _ := stagesSeen(entries)
	return missing(records, seen)
}

func missing(records []ir.Record, seen map[string]StageSet) map[string]StageSet {
	out := make(map[string]StageSet)
	for _, r := range records {
		required := RequiredTransitions(r.RecordType)
		if len(required) == 0 {
			continue
		}
		gap := required.Minus(seen[r.ID])
		if len(gap) == 0 {
			continue
		}
		if prev, ok := out[r.ID]; ok {
			// Same id listed twice under different types: union the gaps.
			for s := range gap {
				prev.Add(s)
			}
			continue
		}
		out[r.ID] = gap
	}
	return out
}
