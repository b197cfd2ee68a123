package overflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evidenceledger/internal/admission"
)

func decodeString(data []byte, _ func() error) (string, error) {
	if string(data) == "corrupt" {
		return "", errors.New("cannot decode")
	}
	return string(data), nil
}

type ackedItem struct {
	value string
	ack   func() error
}

func decodeAcked(data []byte, ack func() error) (ackedItem, error) {
	return ackedItem{value: string(data), ack: ack}, nil
}

func TestDrainOnce_KeepsItemUntilAcked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "overflow")
	s, err := Open(dir, false)
	require.NoError(t, err)
	name, err := s.Put([]byte("evidence"))
	require.NoError(t, err)

	q := admission.NewQueue[ackedItem](4)
	d := NewDrainer(s, q, decodeAcked, 0)
	moved, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	inflight, err := s.Inflight()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, inflight, "queued item keeps its durable copy")

	moved, err = d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, moved, "claimed item is not delivered twice")

	// No consumer ever acknowledges: a restart finds the item pending again.
	restarted, err := Open(dir, false)
	require.NoError(t, err)
	_, err = restarted.Recover()
	require.NoError(t, err)
	pending, err := restarted.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, pending)
}

func TestDrainOnce_AckRemovesItem(t *testing.T) {
	s := createTestSpool(t)
	_, err := s.Put([]byte("evidence"))
	require.NoError(t, err)

	q := admission.NewQueue[ackedItem](4)
	_, err = NewDrainer(s, q, decodeAcked, 0).DrainOnce(context.Background())
	require.NoError(t, err)

	item, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "evidence", item.value)
	require.NoError(t, item.ack())

	inflight, err := s.Inflight()
	require.NoError(t, err)
	assert.Empty(t, inflight)
	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainOnce_MovesUntilFull(t *testing.T) {
	s := createTestSpool(t)
	for _, v := range []string{"a", "b", "c"} {
		_, err := s.Put([]byte(v))
		require.NoError(t, err)
	}

	q := admission.NewQueue[string](2)
	d := NewDrainer(s, q, decodeString, 0)

	moved, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "item that did not fit stays spooled")

	v1, _ := q.TryDequeue()
	v2, _ := q.TryDequeue()
	assert.Equal(t, []string{"a", "b"}, []string{v1, v2})

	moved, err = d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	v3, _ := q.TryDequeue()
	assert.Equal(t, "c", v3)
}

func TestDrainOnce_QuarantinesUndecodable(t *testing.T) {
	s := createTestSpool(t)
	_, err := s.Put([]byte("corrupt"))
	require.NoError(t, err)
	_, err = s.Put([]byte("ok"))
	require.NoError(t, err)

	q := admission.NewQueue[string](4)
	d := NewDrainer(s, q, decodeString, 0)

	moved, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "ok", v)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainOnce_ClosedQueueKeepsItems(t *testing.T) {
	s := createTestSpool(t)
	_, err := s.Put([]byte("a"))
	require.NoError(t, err)

	q := admission.NewQueue[string](1)
	q.Close()
	d := NewDrainer(s, q, decodeString, 0)

	_, err = d.DrainOnce(context.Background())
	assert.ErrorIs(t, err, admission.ErrQueueClosed)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrainer_Run_DeliversNewItems(t *testing.T) {
	s := createTestSpool(t)
	q := admission.NewQueue[string](4)
	d := NewDrainer(s, q, decodeString, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Give the watcher time to start.
	time.Sleep(50 * time.Millisecond)
	_, err := s.Put([]byte("from-spool"))
	require.NoError(t, err)

	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dcancel()
	v, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "from-spool", v)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drainer did not stop")
	}
}

func TestDrainer_Run_TickerRetriesWhenQueueFrees(t *testing.T) {
	s := createTestSpool(t)
	q := admission.NewQueue[string](1)
	require.NoError(t, q.TryEnqueue("blocker"))

	_, err := s.Put([]byte("waiting"))
	require.NoError(t, err)

	d := NewDrainer(s, q, decodeString, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "blocker", v)

	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dcancel()
	v, err = q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "waiting", v)
}
