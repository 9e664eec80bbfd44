package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolveDirRoutesMonitorClassToMP3(t *testing.T) {
	root := t.TempDir()
	s := New(nil, root, "loc1", "hiveA")
	s.now = fixedNow(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))

	dir, err := s.ResolveDir("monitor")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "loc1", "hiveA", "audio", "mp3", "260304"), dir)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestResolveDirRoutesPrimaryToRaw(t *testing.T) {
	root := t.TempDir()
	s := New(nil, root, "loc1", "hiveA")
	s.now = fixedNow(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))

	dir, err := s.ResolveDir("period")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "loc1", "hiveA", "audio", "raw", "260304"), dir)
}

func TestResolvePlotsDirIsSeparateFromAudio(t *testing.T) {
	root := t.TempDir()
	s := New(nil, root, "loc1", "hiveA")
	s.now = fixedNow(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))

	dir, err := s.ResolvePlotsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "loc1", "hiveA", "plots", "260304"), dir)
}

func TestDatedDirCachesSuccessfulCreation(t *testing.T) {
	root := t.TempDir()
	s := New(nil, root, "loc1", "hiveA")
	s.now = fixedNow(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))

	dir1, err := s.ResolveDir("period")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir1))

	dir2, err := s.ResolveDir("period")
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
	// cached: the directory is not recreated after the cache hit
	_, statErr := os.Stat(dir2)
	assert.Error(t, statErr)
}

func TestAwaitWithDeadlineReturnsPromptlyWhenTargetsFinish(t *testing.T) {
	s := New(nil, t.TempDir(), "loc", "hive")
	called := make(chan struct{})

	start := time.Now()
	s.AwaitWithDeadline([]ShutdownTarget{
		{Name: "fast", Await: func() { close(called) }},
	})
	assert.Less(t, time.Since(start), perWorkerShutdownDeadline)

	select {
	case <-called:
	default:
		t.Fatal("target Await was not invoked")
	}
}

func TestShutdownRunsStepsInOrder(t *testing.T) {
	s := New(nil, t.TempDir(), "loc", "hive")
	var order []string

	ctx, cancel := context.WithCancel(context.Background())
	wrappedCancel := func() {
		order = append(order, "cancel-workers")
		cancel()
	}
	loopTargets := []ShutdownTarget{{Name: "period", Await: func() { order = append(order, "loop-done") }}}
	stopCapture := func() { order = append(order, "stop-capture") }
	writeTargets := []ShutdownTarget{{Name: "period-writes", Await: func() { order = append(order, "writes-done") }}}

	s.Shutdown(wrappedCancel, loopTargets, stopCapture, writeTargets)

	require.Equal(t, []string{"cancel-workers", "loop-done", "stop-capture", "writes-done"}, order)
	assert.Error(t, ctx.Err())
}
