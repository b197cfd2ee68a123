package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull ledger:\n")
	for _, event := range e.Trace {
		stage := event.Stage
		if stage == "" {
			stage = "(partial)"
		}
		fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, stage, event.Outputs)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertAuditOK:
		return assertAuditOK(result)
	case AssertAuditGap:
		return assertAuditGap(result, a)
	case AssertLedgerCount:
		return assertLedgerCount(result, a)
	case AssertLedgerOrder:
		return assertLedgerOrder(result, a)
	case AssertSegmentCount:
		if result.SegmentCount != a.Count {
			return &AssertionError{
				Type:     AssertSegmentCount,
				Expected: fmt.Sprintf("%d segments", a.Count),
				Actual:   fmt.Sprintf("%d segments", result.SegmentCount),
				Trace:    result.Trace,
			}
		}
		return nil
	case AssertUnknownTypes:
		want := slices.Sorted(slices.Values(a.Types))
		if !slices.Equal(want, result.Audit.UnknownTypes) {
			return &AssertionError{
				Type:     AssertUnknownTypes,
				Expected: fmt.Sprintf("unknown types %v", want),
				Actual:   fmt.Sprintf("unknown types %v", result.Audit.UnknownTypes),
				Trace:    result.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertAuditOK(result *Result) error {
	if result.Audit.OK() {
		return nil
	}
	gaps := make([]string, len(result.Audit.Gaps))
	for i, g := range result.Audit.Gaps {
		gaps[i] = fmt.Sprintf("%s missing %v", result.alias(g.RecordID), g.Missing)
	}
	return &AssertionError{
		Type:     AssertAuditOK,
		Expected: "no provenance gaps",
		Actual:   strings.Join(gaps, "; "),
		Trace:    result.Trace,
	}
}

// assertAuditGap requires the record's gap to be exactly the listed stages.
func assertAuditGap(result *Result, a Assertion) error {
	recordID, err := result.resolve(a.Record)
	if err != nil {
		return err
	}
	want := slices.Sorted(slices.Values(a.Missing))

	for _, g := range result.Audit.Gaps {
		if g.RecordID != recordID {
			continue
		}
		if slices.Equal(g.Missing, want) {
			return nil
		}
		return &AssertionError{
			Type:     AssertAuditGap,
			Expected: fmt.Sprintf("%s missing %v", a.Record, want),
			Actual:   fmt.Sprintf("%s missing %v", a.Record, g.Missing),
			Trace:    result.Trace,
		}
	}

	return &AssertionError{
		Type:     AssertAuditGap,
		Expected: fmt.Sprintf("%s missing %v", a.Record, want),
		Actual:   "no gap reported",
		Trace:    result.Trace,
	}
}

func assertLedgerCount(result *Result, a Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Stage == a.Stage {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertLedgerCount,
			Expected: fmt.Sprintf("%d entries with stage %s", a.Count, a.Stage),
			Actual:   fmt.Sprintf("%d entries", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertLedgerOrder checks that stages first appear in the given order.
// Entries need not be consecutive.
func assertLedgerOrder(result *Result, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range result.Trace {
		if _, seen := positions[event.Stage]; !seen {
			positions[event.Stage] = i + 1 // 1-indexed for readability
		}
	}

	for _, stage := range a.Stages {
		if positions[stage] == 0 {
			return &AssertionError{
				Type:     AssertLedgerOrder,
				Expected: fmt.Sprintf("all stages present: %v", a.Stages),
				Actual:   fmt.Sprintf("missing stage: %s", stage),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(a.Stages); i++ {
		prev, curr := a.Stages[i-1], a.Stages[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertLedgerOrder,
				Expected: fmt.Sprintf("stages in order: %v", a.Stages),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}
