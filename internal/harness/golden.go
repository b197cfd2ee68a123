package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/evidenceledger/internal/ir"
)

// TraceSnapshot captures the ledger and audit outcome of a scenario.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Gaps         map[string][]string // record (or "$name") to missing stages
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		outputs := make([]any, len(event.Outputs))
		for j, out := range event.Outputs {
			outputs[j] = out
		}
		traceList[i] = map[string]any{
			"seq":     event.Seq,
			"id":      event.ID,
			"stage":   event.Stage,
			"outputs": outputs,
			"ts_utc":  event.TSUTC,
		}
	}

	gaps := make(map[string]any, len(s.Gaps))
	for record, missing := range s.Gaps {
		list := make([]any, len(missing))
		for i, stage := range missing {
			list[i] = stage
		}
		gaps[record] = list
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"gaps":          gaps,
	}
}

func snapshotOf(name string, result *Result) TraceSnapshot {
	gaps := make(map[string][]string, len(result.Audit.Gaps))
	for _, g := range result.Audit.Gaps {
		gaps[result.alias(g.RecordID)] = g.Missing
	}
	return TraceSnapshot{ScenarioName: name, Trace: result.Trace, Gaps: gaps}
}

// Snapshot renders the golden form of result: canonical JSON of the ledger
// trace and the remaining gaps, with segment ids replaced by their names.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := snapshotOf(scenarioName, result)
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
