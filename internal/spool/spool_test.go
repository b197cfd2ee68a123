package spool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evidenceledger/internal/ir"
)

func TestOpen_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "spool")

	s, err := Open(Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpen_RequiresRoot(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestAppend_Idempotent(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	out, err := s.Append(ctx, seg)
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	out, err = s.Append(ctx, seg)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{seg.SegmentID}, ids)
}

func TestAppend_IdempotentAcrossMetadataKeyOrder(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()

	a := createTestSegment("2026-01-01T00:00:00Z", "blob-1")
	a.Metadata = ir.ObjectOf(ir.P("x", ir.Int(1)), ir.P("y", ir.Int(2)))
	b := a
	b.Metadata = ir.ObjectOf(ir.P("y", ir.Int(2)), ir.P("x", ir.Int(1)))

	_, err := s.Append(ctx, a)
	require.NoError(t, err)
	out, err := s.Append(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)
}

func TestAppend_CollisionOnDifferentContent(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()

	first := createTestSegment("2026-01-01T00:00:00Z", "blob-1")
	second := first
	second.BlobID = "blob-2" // same id, different content

	_, err := s.Append(ctx, first)
	require.NoError(t, err)

	_, err = s.Append(ctx, second)
	require.Error(t, err)
	assert.True(t, IsCollision(err))
	assert.False(t, IsCorrupt(err))

	var se *Error
	require.True(t, errors.As(err, &se))
	path, _ := s.Path(first.SegmentID)
	assert.Equal(t, path, se.Path)
	assert.Contains(t, err.Error(), path)

	// Original content must survive.
	got, err := s.Get(first.SegmentID)
	require.NoError(t, err)
	assert.Equal(t, "blob-1", got.BlobID)
}

func TestAppend_CollisionOnMetadataChange(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()

	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")
	_, err := s.Append(ctx, seg)
	require.NoError(t, err)

	seg.Metadata = ir.Object{"app": ir.String("browser")}
	_, err = s.Append(ctx, seg)
	assert.True(t, IsCollision(err))
}

func TestAppend_CorruptExistingEntry(t *testing.T) {
	s := createTestStore(t, false)
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	path, err := s.Path(seg.SegmentID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"segment_id": trunc`), 0o640))

	_, err = s.Append(context.Background(), seg)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.Contains(t, err.Error(), path)

	// No repair attempt.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"segment_id": trunc`, string(data))

	_, err = s.Get(seg.SegmentID)
	assert.True(t, IsCorrupt(err))
}

func TestAppend_RejectsInvalidSegment(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()

	_, err := s.Append(ctx, ir.CaptureSegment{SegmentID: "x", TSUTC: "2026-01-01T00:00:00Z"})
	require.Error(t, err, "missing blob_id")

	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")
	seg.SegmentID = "../escape"
	_, err = s.Append(ctx, seg)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAppend_CancelledContext(t *testing.T) {
	s := createTestStore(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, createTestSegment("2026-01-01T00:00:00Z", "blob-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppend_WithFsync(t *testing.T) {
	s := createTestStore(t, true)
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	out, err := s.Append(context.Background(), seg)
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	ok, err := s.Has(seg.SegmentID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppend_LeavesNoTempFiles(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, seg)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, seg.SegmentID+SegmentExt, entries[0].Name())
}

func TestAppend_ConcurrentSameContent(t *testing.T) {
	s := createTestStore(t, false)
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	const writers = 16
	outcomes := make([]Outcome, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.Append(context.Background(), seg)
		}(i)
	}
	wg.Wait()

	written := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		if outcomes[i] == Written {
			written++
		}
	}
	assert.Equal(t, 1, written, "exactly one writer creates the segment")
}

func TestAppend_ConcurrentDifferentContent(t *testing.T) {
	s := createTestStore(t, false)
	base := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	const writers = 8
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seg := base
			seg.Metadata = ir.Object{"writer": ir.Int(int64(i))}
			_, errs[i] = s.Append(context.Background(), seg)
		}(i)
	}
	wg.Wait()

	succeeded, collided := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsCollision(err):
			collided++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, collided)
}

func TestHasAndGet(t *testing.T) {
	s := createTestStore(t, false)
	seg := createTestSegment("2026-01-01T00:00:00Z", "blob-1")

	ok, err := s.Has(seg.SegmentID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(seg.SegmentID)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = s.Append(context.Background(), seg)
	require.NoError(t, err)

	ok, err = s.Has(seg.SegmentID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(seg.SegmentID)
	require.NoError(t, err)
	assert.Equal(t, seg, got)

	_, err = s.Has("")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestList_SortedAndFiltered(t *testing.T) {
	s := createTestStore(t, false)
	ctx := context.Background()

	var want []string
	for _, blob := range []string{"blob-c", "blob-a", "blob-b"} {
		seg := createTestSegment("2026-01-01T00:00:00Z", blob)
		_, err := s.Append(ctx, seg)
		require.NoError(t, err)
		want = append(want, seg.SegmentID)
	}

	// Crash leftovers and unrelated files are not segments.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), TempFilePrefix+"123"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "README.txt"), []byte("x"), 0o640))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "sub.json"), 0o750))

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, ids)
	assert.IsNonDecreasing(t, ids)
}

func TestSegmentFileGolden(t *testing.T) {
	s := createTestStore(t, false)
	seg := ir.CaptureSegment{
		SegmentID: ir.MustSegmentID("2026-01-01T00:00:00Z", "blob-1"),
		TSUTC:     "2026-01-01T00:00:00Z",
		BlobID:    "blob-1",
		Metadata: ir.Object{
			"window": ir.Object{"title": ir.String("<notes> & todo"), "monitor": ir.Int(2)},
			"tags":   ir.Array{ir.String("a"), ir.String("b")},
			"app":    ir.String("editor"),
		},
	}

	_, err := s.Append(context.Background(), seg)
	require.NoError(t, err)

	path, err := s.Path(seg.SegmentID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "segment_file", data)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "written", Written.String())
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "outcome(0)", Outcome(0).String())
}
