package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegment() CaptureSegment {
	return CaptureSegment{
		SegmentID: "seg-1",
		TSUTC:     "2026-01-01T00:00:00Z",
		BlobID:    "blob-1",
		Metadata:  Object{"monitor": Int(1), "app": String("editor")},
	}
}

func TestCaptureSegmentCanonical(t *testing.T) {
	data, err := testSegment().Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"blob_id":"blob-1","metadata":{"app":"editor","monitor":1},"segment_id":"seg-1","ts_utc":"2026-01-01T00:00:00Z"}`,
		string(data))
}

func TestCaptureSegmentCanonicalNilMetadata(t *testing.T) {
	seg := testSegment()
	seg.Metadata = nil

	data, err := seg.Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metadata":{}`)
}

func TestParseSegmentRoundTrip(t *testing.T) {
	data, err := testSegment().Canonical()
	require.NoError(t, err)

	seg, err := ParseSegment(data)
	require.NoError(t, err)
	assert.Equal(t, testSegment(), seg)
}

func TestParseSegmentRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"segment_id":`},
		{"not object", `[]`},
		{"missing blob", `{"segment_id":"s","ts_utc":"2026-01-01T00:00:00Z","metadata":{}}`},
		{"numeric id", `{"segment_id":1,"ts_utc":"2026-01-01T00:00:00Z","blob_id":"b"}`},
		{"non-utc ts", `{"segment_id":"s","ts_utc":"2026-01-01T00:00:00+02:00","blob_id":"b"}`},
		{"metadata array", `{"segment_id":"s","ts_utc":"2026-01-01T00:00:00Z","blob_id":"b","metadata":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSegment([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 1, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, "2026-01-01T00:00:00Z", FormatTimestamp(ts))

	parsed, err := ParseTimestamp("2026-01-01T00:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, time.Duration(parsed.Nanosecond()))
}

func TestLedgerEntryPartial(t *testing.T) {
	assert.True(t, LedgerEntry{Outputs: []string{"r1"}}.Partial())
	assert.True(t, LedgerEntry{Stage: "  "}.Partial())
	assert.False(t, LedgerEntry{Stage: "capture"}.Partial())
}

func TestLedgerEntryMarshalEmptyOutputs(t *testing.T) {
	data, err := json.Marshal(LedgerEntry{ID: "e1", Seq: 1, Stage: "capture"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outputs":[]`)
}
