package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echovault-sync/echovault/internal/ingest"
)

type countingTicker struct {
	calls atomic.Int32
	err   error
}

func (c *countingTicker) Tick(ctx context.Context) (ingest.Result, error) {
	c.calls.Add(1)
	return ingest.Result{Inserted: 1}, c.err
}

func TestWatcher_TriggersTickAfterDebounceOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	ticker := &countingTicker{}

	w, err := New([]string{dir}, 30*time.Millisecond, ticker)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.jsonl"), []byte("{}"), 0o644))

	select {
	case outcome := <-w.Results():
		require.NoError(t, outcome.Err)
		assert.Equal(t, 1, outcome.Result.Inserted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for triggered tick")
	}
	assert.Equal(t, int32(1), ticker.calls.Load())
}

func TestWatcher_CoalescesBurstOfWritesIntoOneTick(t *testing.T) {
	dir := t.TempDir()
	ticker := &countingTicker{}

	w, err := New([]string{dir}, 100*time.Millisecond, ticker)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "session.jsonl"), []byte("{}"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-w.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for triggered tick")
	}

	// Give any extra (incorrect) ticks a chance to land before asserting.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), ticker.calls.Load())
}

func TestWatcher_SkipsMissingLocationWithoutFailingStart(t *testing.T) {
	ticker := &countingTicker{}
	w, err := New([]string{"/definitely/does/not/exist"}, 10*time.Millisecond, ticker)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)

	select {
	case <-w.Results():
		t.Fatal("unexpected tick outcome for a location that was never watched")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 10*time.Millisecond, &countingTicker{})
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
