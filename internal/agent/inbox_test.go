package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evidenceledger/internal/capture"
	"github.com/roach88/evidenceledger/internal/ir"
)

func writeInboxFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func inboxNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestScanInbox_HoldsFilesUntilAcked(t *testing.T) {
	a := createTestAgent(t, testConfig(t), nil)
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "b.bin", "second")
	writeInboxFile(t, inbox, "a.bin", "first")
	writeInboxFile(t, inbox, ".partial", "still writing")

	n, err := a.ScanInbox(context.Background(), inbox)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, a.queue.Len())

	first, ok := a.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), first.Payload)
	assert.Equal(t, ir.String(InboxSource), first.Metadata["source"])
	assert.Equal(t, ir.String("a.bin"), first.Metadata["file"])

	assert.Equal(t, []string{".inflight-a.bin", ".inflight-b.bin", ".partial"}, inboxNames(t, inbox))

	require.NoError(t, first.Ack())
	assert.Equal(t, []string{".inflight-b.bin", ".partial"}, inboxNames(t, inbox))

	n, err = a.ScanInbox(context.Background(), inbox)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "in-flight files are not submitted twice")
}

func TestScanInbox_SpooledFileRemovedAtOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueCapacity = 1
	a := createTestAgent(t, cfg, nil)
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "a.bin", "first")
	writeInboxFile(t, inbox, "b.bin", "second")

	n, err := a.ScanInbox(context.Background(), inbox)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{".inflight-a.bin"}, inboxNames(t, inbox))
	assert.Equal(t, 1, a.Stats().OverflowPending)
}

func TestRecoverInbox_RestoresInflightFiles(t *testing.T) {
	a := createTestAgent(t, testConfig(t), nil)
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "a.bin", "payload")

	_, err := a.ScanInbox(context.Background(), inbox)
	require.NoError(t, err)

	// The process dies before any worker captures the job.
	restarted := createTestAgent(t, testConfig(t), nil)
	n, err := restarted.RecoverInbox(inbox)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a.bin"}, inboxNames(t, inbox))

	n, err = restarted.ScanInbox(context.Background(), inbox)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanInbox_KeepsFileWhenNotAdmitted(t *testing.T) {
	a := createTestAgent(t, testConfig(t), nil)
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "a.bin", "payload")

	a.queue.Close()

	n, err := a.ScanInbox(context.Background(), inbox)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, isShutdown(err))

	assert.Equal(t, []string{"a.bin"}, inboxNames(t, inbox))
}

func TestScanInbox_MissingDir(t *testing.T) {
	a := createTestAgent(t, testConfig(t), nil)

	_, err := a.ScanInbox(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestWatchInbox_CapturesNewFiles(t *testing.T) {
	a := createTestAgent(t, testConfig(t), nil)
	inbox := filepath.Join(t.TempDir(), "inbox")

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()
	watchDone := make(chan error, 1)
	go func() { watchDone <- a.WatchInbox(ctx, inbox, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(inbox)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	// Write-then-rename, the way producers are expected to deliver.
	writeInboxFile(t, inbox, ".tmp-1", "hello")
	require.NoError(t, os.Rename(filepath.Join(inbox, ".tmp-1"), filepath.Join(inbox, "one.bin")))

	require.Eventually(t, func() bool {
		return a.Stats().Captured == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-watchDone)
	require.NoError(t, <-runDone)
	assert.Empty(t, inboxNames(t, inbox))

	ids, err := a.Segments().List()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	seg, err := a.Segments().Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, ir.String("one.bin"), seg.Metadata["file"])
}

func TestWatchInbox_StopsWhenQueueClosed(t *testing.T) {
	cfg := testConfig(t)
	cfg.OverflowEnabled = false
	a := createTestAgent(t, cfg, nil)
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "a.bin", "payload")

	a.queue.Close()

	err := a.WatchInbox(context.Background(), inbox, time.Hour)
	assert.NoError(t, err)
}

func TestInboxJob_RoundTripsThroughOverflow(t *testing.T) {
	job := capture.Job{
		Payload:  []byte{0, 1, 2},
		Metadata: ir.ObjectOf(ir.P("source", ir.String(InboxSource))),
	}
	data, err := capture.MarshalJob(job)
	require.NoError(t, err)

	got, err := capture.UnmarshalJob(data)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}
