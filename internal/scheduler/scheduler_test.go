package scheduler

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elhorte/bmar/internal/config"
	"github.com/elhorte/bmar/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDirResolver struct {
	dir string
}

func (f fixedDirResolver) ResolveDir(threadTag string) (string, error) {
	return f.dir, nil
}

func sineInto(buf *ring.Buffer, freqHz float64, rateHz int, seconds float64) {
	channels := buf.Channels()
	n := int(float64(rateHz) * seconds)
	frames := make([]int32, n*channels)
	for i := 0; i < n; i++ {
		v := int32(0.5 * math.MaxInt32 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(rateHz)))
		for ch := 0; ch < channels; ch++ {
			frames[i*channels+ch] = v
		}
	}
	buf.Write(frames)
}

func TestWorkerEmitsOneSegmentPerDurationInterval(t *testing.T) {
	buf := ring.New(48000*10, 1)
	sineInto(buf, 1000, 48000, 10)

	dir := t.TempDir()
	w := NewWorker(WorkerConfig{
		ThreadTag:    "period",
		DurationSec:  1,
		IntervalSec:  0,
		SourceRateHz: 48000,
		BitDepth:     16,
		Channels:     1,
		Format:       config.FormatWAV,
		LocationID:   "loc",
		HiveID:       "hive",
	}, buf, fixedDirResolver{dir}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(1200 * time.Millisecond)
		cancel()
	}()
	w.Run(ctx)
	w.AwaitPendingWrites()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 1)
}

func TestWorkerSkipsSegmentOnLostHistory(t *testing.T) {
	// A tiny ring that the producer has already lapped past the
	// requested segment window: emitSegment must not write a file.
	buf := ring.New(10, 1)
	buf.Write(make([]int32, 1000)) // many laps past capacity

	dir := t.TempDir()
	w := NewWorker(WorkerConfig{
		ThreadTag:    "period",
		SourceRateHz: 48000,
		BitDepth:     16,
		Channels:     1,
		Format:       config.FormatWAV,
	}, buf, fixedDirResolver{dir}, nil)

	w.emitSegment(0, 1)
	w.AwaitPendingWrites()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkerDecimatesWhenTargetRateLower(t *testing.T) {
	buf := ring.New(192000*2, 1)
	sineInto(buf, 1000, 192000, 1)

	dir := t.TempDir()
	w := NewWorker(WorkerConfig{
		ThreadTag:    "monitor",
		SourceRateHz: 192000,
		TargetRateHz: 48000,
		BitDepth:     16,
		Channels:     1,
		Format:       config.FormatFLAC,
	}, buf, fixedDirResolver{dir}, nil)
	require.NotNil(t, w.decim)

	w.emitSegment(0, 192000)
	w.AwaitPendingWrites()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "_48000_")
}

func TestEventWorkerEmitsPreRollPostRollWindow(t *testing.T) {
	buf := ring.New(48000*10, 1)
	sineInto(buf, 1000, 48000, 10)

	dir := t.TempDir()
	ew := NewEventWorker(WorkerConfig{
		ThreadTag:    "event",
		SourceRateHz: 48000,
		BitDepth:     16,
		Channels:     1,
		Format:       config.FormatWAV,
	}, 2*48000, 2*48000, buf, fixedDirResolver{dir}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan uint64, 1)
	requests <- 5 * 48000

	go ew.Run(ctx, requests)
	time.Sleep(200 * time.Millisecond)
	ew.AwaitPendingWrites()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_ = filepath.Join(dir, entries[0].Name())
}
