package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/spool"
)

// cliResult captures one command execution.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// execute runs the root command against dataDir.
func execute(t *testing.T, dataDir string, stdin string, args ...string) cliResult {
	t.Helper()
	return executeContext(t, context.Background(), dataDir, stdin, args...)
}

func executeContext(t *testing.T, ctx context.Context, dataDir string, stdin string, args ...string) cliResult {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))

	err := cmd.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func captureJSON(t *testing.T, dataDir string, args ...string) []CapturedSegment {
	t.Helper()
	res := execute(t, dataDir, "", append([]string{"--format", "json", "capture"}, args...)...)
	require.NoError(t, res.err)

	var data struct {
		Segments []CapturedSegment `json:"segments"`
	}
	decodeData(t, res.stdout, &data)
	return data.Segments
}

func TestCapture_TextOutput(t *testing.T) {
	dataDir := t.TempDir()
	input := writeFile(t, t.TempDir(), "frame.bin", "pixels")

	res := execute(t, dataDir, "", "capture", input, "--meta", "app=firefox")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, input)

	ids, err := os.ReadDir(filepath.Join(dataDir, "segments"))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, strings.HasSuffix(ids[0].Name(), spool.SegmentExt))
	assert.Contains(t, res.stdout, strings.TrimSuffix(ids[0].Name(), spool.SegmentExt))
}

func TestCapture_StdinJSON(t *testing.T) {
	dataDir := t.TempDir()

	res := execute(t, dataDir, "from stdin", "--format", "json", "capture",
		"--meta-json", `{"window":{"id":7},"app":"term"}`)
	require.NoError(t, res.err)

	var data struct {
		Segments []CapturedSegment `json:"segments"`
	}
	decodeData(t, res.stdout, &data)
	require.Len(t, data.Segments, 1)

	got := data.Segments[0]
	assert.Equal(t, "-", got.Source)
	assert.Equal(t, ir.PayloadDigest([]byte("from stdin")), got.BlobID)
	assert.Equal(t, ir.MustSegmentID(got.TSUTC, got.BlobID), got.SegmentID)

	store, err := spool.Open(spool.Options{Root: filepath.Join(dataDir, "segments")})
	require.NoError(t, err)
	seg, err := store.Get(got.SegmentID)
	require.NoError(t, err)
	assert.Equal(t, ir.String("term"), seg.Metadata["app"])
	assert.Equal(t, ir.ObjectOf(ir.P("id", ir.Int(7))), seg.Metadata["window"])
}

func TestCapture_MultipleFiles(t *testing.T) {
	dataDir := t.TempDir()
	in := t.TempDir()
	a := writeFile(t, in, "a.bin", "a")
	b := writeFile(t, in, "b.bin", "b")

	segments := captureJSON(t, dataDir, a, b)
	require.Len(t, segments, 2)
	assert.Equal(t, a, segments[0].Source)
	assert.Equal(t, b, segments[1].Source)
	assert.NotEqual(t, segments[0].SegmentID, segments[1].SegmentID)
}

func TestCapture_InvalidMetadata(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing_equals", []string{"--meta", "novalue"}},
		{"empty_key", []string{"--meta", "=x"}},
		{"float", []string{"--meta-json", `{"ratio":1.5}`}},
		{"not_object", []string{"--meta-json", `[1,2]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			res := execute(t, dataDir, "payload", append([]string{"--format", "json", "capture"}, tt.args...)...)
			require.Error(t, res.err)
			assert.Equal(t, ExitCommandError, GetExitCode(res.err))
			assert.Equal(t, ErrCodeInput, decodeError(t, res.stdout).Code)

			_, err := os.Stat(filepath.Join(dataDir, "segments"))
			assert.True(t, os.IsNotExist(err), "nothing should be written")
		})
	}
}

func TestCapture_MissingFile(t *testing.T) {
	res := execute(t, t.TempDir(), "", "capture", filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "failed to read input")
}

func TestList(t *testing.T) {
	dataDir := t.TempDir()
	segments := captureJSON(t, dataDir, writeFile(t, t.TempDir(), "a.bin", "a"))

	res := execute(t, dataDir, "", "--format", "json", "list")
	require.NoError(t, res.err)

	var data struct {
		Count    int             `json:"count"`
		Segments []ListedSegment `json:"segments"`
	}
	decodeData(t, res.stdout, &data)
	assert.Equal(t, 1, data.Count)
	require.Len(t, data.Segments, 1)
	assert.Equal(t, segments[0].SegmentID, data.Segments[0].SegmentID)
	assert.Equal(t, SegmentIndexed, data.Segments[0].State)
}

func TestList_ReportsCorruptAndUnindexed(t *testing.T) {
	dataDir := t.TempDir()
	orphan := writeOrphan(t, dataDir, "2026-01-01T00:00:00Z", "blob-orphan")
	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "segments", "broken"+spool.SegmentExt), []byte("{not json"), 0o600))

	res := execute(t, dataDir, "", "--format", "json", "list")
	require.NoError(t, res.err)

	var data struct {
		Segments []ListedSegment `json:"segments"`
	}
	decodeData(t, res.stdout, &data)

	states := map[string]string{}
	for _, s := range data.Segments {
		states[s.SegmentID] = s.State
	}
	assert.Equal(t, map[string]string{
		orphan.SegmentID: SegmentUnindexed,
		"broken":         SegmentCorrupt,
	}, states)
}

func TestList_Empty(t *testing.T) {
	res := execute(t, t.TempDir(), "", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No segments stored.")
}

func TestAudit_CleanAfterCapture(t *testing.T) {
	dataDir := t.TempDir()
	captureJSON(t, dataDir, writeFile(t, t.TempDir(), "a.bin", "a"))

	res := execute(t, dataDir, "", "audit")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Records: 1 (complete 1, exempt 0, gaps 0)")
}

func TestAudit_GapFailsUntilLedgerAppended(t *testing.T) {
	dataDir := t.TempDir()

	res := execute(t, dataDir, "", "record", "put", "--type", "derived.text.ocr", "ocr-1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "ocr-1 registered")

	res = execute(t, dataDir, "", "--format", "json", "audit")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	var report struct {
		Gaps []struct {
			RecordID string   `json:"record_id"`
			Missing  []string `json:"missing"`
		} `json:"gaps"`
	}
	decodeData(t, res.stdout, &report)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, "ocr-1", report.Gaps[0].RecordID)
	assert.Equal(t, []string{"derived.extract"}, report.Gaps[0].Missing)

	res = execute(t, dataDir, "", "ledger", "append", "--stage", "derived.extract", "ocr-1")
	require.NoError(t, res.err)

	res = execute(t, dataDir, "", "audit")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "gaps 0")
}

func TestAudit_UnknownTypes(t *testing.T) {
	dataDir := t.TempDir()
	res := execute(t, dataDir, "", "record", "put", "--type", "custom.thing", "c-1")
	require.NoError(t, res.err)

	res = execute(t, dataDir, "", "audit")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Unknown record types: custom.thing")

	res = execute(t, dataDir, "", "audit", "--fail-on-unknown")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
}

func TestAudit_PartialEntriesIgnored(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, execute(t, dataDir, "", "record", "put", "--type", "evidence.window.meta", "w-1").err)
	require.NoError(t, execute(t, dataDir, "", "ledger", "append", "--stage", "", "w-1").err)

	res := execute(t, dataDir, "", "audit")
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "missing: window.meta")
	assert.Contains(t, res.stdout, "Ignored 1 partial ledger")
}

func TestRecordPut_FirstTypeWins(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, execute(t, dataDir, "", "record", "put", "--type", "system.heartbeat", "r-1").err)

	res := execute(t, dataDir, "", "--format", "json", "record", "put", "--type", "derived.text.ocr", "r-1")
	require.NoError(t, res.err)
	var data struct {
		Inserted bool `json:"inserted"`
	}
	decodeData(t, res.stdout, &data)
	assert.False(t, data.Inserted)

	res = execute(t, dataDir, "", "record", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "r-1  system.heartbeat")
}

func TestRecordPut_RequiresType(t *testing.T) {
	res := execute(t, t.TempDir(), "", "record", "put", "r-1")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "required flag")
}

func TestLedgerShow(t *testing.T) {
	dataDir := t.TempDir()
	segments := captureJSON(t, dataDir, writeFile(t, t.TempDir(), "a.bin", "a"))
	require.NoError(t, execute(t, dataDir, "", "ledger", "append", "--stage", "derived.extract", "other").err)

	res := execute(t, dataDir, "", "--format", "json", "ledger", "show", "--record", segments[0].SegmentID)
	require.NoError(t, res.err)

	var data struct {
		Entries []ir.LedgerEntry `json:"entries"`
	}
	decodeData(t, res.stdout, &data)
	require.Len(t, data.Entries, 2)
	assert.Equal(t, "capture", data.Entries[0].Stage)
	assert.Equal(t, "segment.seal", data.Entries[1].Stage)
	assert.Less(t, data.Entries[0].Seq, data.Entries[1].Seq)

	res = execute(t, dataDir, "", "ledger", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "derived.extract")
}

func TestReconcile(t *testing.T) {
	dataDir := t.TempDir()
	orphan := writeOrphan(t, dataDir, "2026-01-01T00:00:00Z", "blob-orphan")

	res := execute(t, dataDir, "", "reconcile")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "UNINDEXED  "+orphan.SegmentID)
	assert.Contains(t, res.stdout, "--repair")

	// Registered but not yet proven.
	res = execute(t, dataDir, "", "audit")
	require.Error(t, res.err)

	res = execute(t, dataDir, "", "--format", "json", "reconcile", "--repair")
	require.NoError(t, res.err)
	var report struct {
		Repaired  []string `json:"repaired"`
		Unindexed []string `json:"unindexed"`
	}
	decodeData(t, res.stdout, &report)
	assert.Equal(t, []string{orphan.SegmentID}, report.Repaired)
	assert.Empty(t, report.Unindexed)

	require.NoError(t, execute(t, dataDir, "", "audit").err)
}

func TestConfigFile(t *testing.T) {
	cfgDir := t.TempDir()
	cfgPath := writeFile(t, cfgDir, "evledger.yaml", "spool_root: segs\nfsync: false\n")

	res := execute(t, t.TempDir(), "payload", "--config", cfgPath, "capture")
	require.NoError(t, res.err)

	entries, err := os.ReadDir(filepath.Join(cfgDir, "segs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfigFile_Invalid(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "evledger.yaml", "queue_capacity: 0\n")

	res := execute(t, t.TempDir(), "", "--format", "json", "--config", cfgPath, "list")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Equal(t, ErrCodeConfig, decodeError(t, res.stdout).Code)
}

func TestVersion(t *testing.T) {
	res := execute(t, t.TempDir(), "", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "evledger "+ir.AgentVersion)

	res = execute(t, t.TempDir(), "", "--format", "json", "version")
	require.NoError(t, res.err)
	var info VersionInfo
	decodeData(t, res.stdout, &info)
	assert.Equal(t, ir.SegmentFormatVersion, info.SegmentFormat)
	assert.Equal(t, int64(3), info.SchemaVersion)
}

// writeOrphan stores a segment directly, as a crash before registration
// would leave it.
func writeOrphan(t *testing.T, dataDir, ts, blob string) ir.CaptureSegment {
	t.Helper()
	store, err := spool.Open(spool.Options{Root: filepath.Join(dataDir, "segments")})
	require.NoError(t, err)

	seg := ir.CaptureSegment{
		SegmentID: ir.MustSegmentID(ts, blob),
		TSUTC:     ts,
		BlobID:    blob,
		Metadata:  ir.Object{},
	}
	_, err = store.Append(context.Background(), seg)
	require.NoError(t, err)
	return seg
}
