package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"capture_and_derive", "crash_unrepaired", "crash_repaired"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_BindsSegmentNames(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "capture_and_derive"))
	require.NoError(t, err)

	frame := result.Segments["frame"]
	require.NotEmpty(t, frame)
	assert.Len(t, frame, 64)
	assert.Equal(t, "$frame", result.alias(frame))

	resolved, err := result.resolve("$frame")
	require.NoError(t, err)
	assert.Equal(t, frame, resolved)
	assert.Equal(t, "ocr-1", result.alias("ocr-1"))
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "capture_and_derive")

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Segments, second.Segments)
}

func TestRun_StartTimeShiftsSegmentIDs(t *testing.T) {
	scenario := loadTestScenario(t, "capture_and_derive")
	base, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	shifted := *scenario
	shifted.Start = "2026-06-01T12:00:00Z"
	moved, err := Run(context.Background(), &shifted)
	require.NoError(t, err)

	assert.NotEqual(t, base.Segments["frame"], moved.Segments["frame"])
	assert.True(t, moved.Pass)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failing
description: "expects a proof that was never recorded"
steps:
  - op: record
    id: ocr-9
    type: derived.text.ocr
assertions:
  - type: audit_ok
  - type: segment_count
    count: 2
  - type: audit_gap
    record: ocr-9
    missing: [derived.extract]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "ocr-9 missing [derived.extract]")
	assert.Contains(t, result.Errors[1], "assertions[1]")
	assert.Contains(t, result.Errors[1], "0 segments")
}

func TestRun_SamePayloadAtNewInstantIsNewSegment(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: two_frames
description: "identical payloads at different instants are distinct segments"
steps:
  - {op: capture, as: a, payload: same}
  - {op: capture, as: b, payload: same}
assertions:
  - {type: segment_count, count: 2}
  - {type: ledger_count, stage: segment.seal, count: 2}
  - {type: audit_ok}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotEqual(t, result.Segments["a"], result.Segments["b"])
}
