package provenance

import (
	"slices"
	"strings"

	"github.com/roach88/evidenceledger/internal/ir"
)

// Gap is one record with missing stages.
type Gap struct {
	RecordID   string   `json:"record_id"`
	RecordType string   `json:"record_type"`
	Missing    []string `json:"missing"`
}

// Report is the result of an audit.
type Report struct {
	Records        int      `json:"records"`
	Complete       int      `json:"complete"`
	Exempt         int      `json:"exempt"`
	Gaps           []Gap    `json:"gaps"`
	UnknownTypes   []string `json:"unknown_types"`
	PartialEntries int      `json:"partial_entries"`
}

// OK reports whether no required stage is missing.
func (r Report) OK() bool {
	return len(r.Gaps) == 0
}

// Audit evaluates every record against the ledger. Gaps are the same
// records MissingTransitions returns, sorted by record id. Unknown record
// types and ignored partial ledger entries are reported alongside.
func Audit(records []ir.Record, entries []ir.LedgerEntry) Report {
	seen, partial := stagesSeen(entries)
	gaps := missing(records, seen)

	report := Report{
		Records:        len(records),
		Gaps:           []Gap{},
		UnknownTypes:   []string{},
		PartialEntries: partial,
	}

	unknown := make(map[string]bool)
	for _, r := range records {
		switch Classify(r.RecordType) {
		case CoverageUnknown:
			unknown[r.RecordType] = true
		case CoverageExempt:
			report.Exempt++
		case CoverageRequired:
			if _, ok := gaps[r.ID]; !ok {
				report.Complete++
			}
		}
	}

	typeOf := make(map[string]string, len(records))
	for _, r := range records {
		if _, ok := typeOf[r.ID]; !ok {
			typeOf[r.ID] = r.RecordType
		}
	}
	for id, gap := range gaps {
		report.Gaps = append(report.Gaps, Gap{
			RecordID:   id,
			RecordType: typeOf[id],
			Missing:    gap.Sorted(),
		})
	}
	slices.SortFunc(report.Gaps, func(a, b Gap) int {
		return strings.Compare(a.RecordID, b.RecordID)
	})

	for t := range unknown {
		report.UnknownTypes = append(report.UnknownTypes, t)
	}
	slices.Sort(report.UnknownTypes)
	return report
}
