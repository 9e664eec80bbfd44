package render

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elhorte/bmar/internal/config"
	"github.com/elhorte/bmar/internal/encode"
)

func TestLaunchCancelsPriorJobOfSameKind(t *testing.T) {
	d := NewDispatcher(nil)
	firstCancelled := make(chan struct{})

	d.Launch(KindScope, 0, func(ctx context.Context) {
		<-ctx.Done()
		close(firstCancelled)
	}, nil)

	d.Launch(KindScope, 0, func(ctx context.Context) {
		<-ctx.Done()
	}, nil)

	select {
	case <-firstCancelled:
	case <-time.After(time.Second):
		t.Fatal("launching a second job of the same kind did not cancel the first")
	}
}

func TestLaunchBudgetCancelsContext(t *testing.T) {
	d := NewDispatcher(nil)
	var cancelled atomic.Bool

	d.Launch(KindFFT, 50*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		cancelled.Store(true)
	}, nil)

	time.Sleep(200 * time.Millisecond)
	assert.True(t, cancelled.Load())
}

func TestLaunchHardKillsAfterGraceWhenJobIgnoresCancellation(t *testing.T) {
	d := NewDispatcher(nil)
	forceStopped := make(chan struct{})

	d.Launch(KindSpec, 20*time.Millisecond, func(ctx context.Context) {
		// deliberately ignores ctx.Done() to exercise the hard-kill path
		time.Sleep(5 * time.Second)
	}, func() { close(forceStopped) })

	select {
	case <-forceStopped:
	case <-time.After(HardKillGrace + time.Second):
		t.Fatal("forceStop was not invoked after the hard-kill grace period")
	}
}

func TestCancelAllCancelsEveryActiveKind(t *testing.T) {
	d := NewDispatcher(nil)
	done := make(chan struct{}, 2)

	d.Launch(KindScope, 0, func(ctx context.Context) { <-ctx.Done(); done <- struct{}{} }, nil)
	d.Launch(KindVU, 0, func(ctx context.Context) { <-ctx.Done(); done <- struct{}{} }, nil)

	d.CancelAll()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("CancelAll did not cancel all active kinds")
		}
	}
}

func TestScopeAndFFTBudgetsMatchSpec(t *testing.T) {
	assert.Equal(t, 40*time.Second, ScopeBudget(10))
	assert.Equal(t, 40*time.Second, FFTBudget(10))
	assert.Equal(t, 240*time.Second, SpectrogramBudget())
}

func TestExtractChannelDeinterleaves(t *testing.T) {
	samples := []int32{1, 2, 3, 4, 5, 6} // 3 frames, 2 channels
	assert.Equal(t, []int32{1, 3, 5}, extractChannel(samples, 2, 0))
	assert.Equal(t, []int32{2, 4, 6}, extractChannel(samples, 2, 1))
}

func TestExtractChannelClampsOutOfRange(t *testing.T) {
	samples := []int32{1, 2, 3, 4}
	assert.Equal(t, []int32{1, 3}, extractChannel(samples, 2, 5))
}

func TestBucketSizeForMatchesFormula(t *testing.T) {
	// bucket_size = bucket_hz * N / rate
	assert.Equal(t, 100, bucketSizeFor(1000, 48000, 480000))
	assert.Equal(t, 1, bucketSizeFor(1, 1, 48000))
}

func TestBucketAverageProducesExpectedBucketCount(t *testing.T) {
	coeff := make([]complex128, 1000)
	for i := range coeff {
		coeff[i] = complex(1, 0)
	}
	out := bucketAverage(coeff, 100)
	require.Len(t, out, 10)
	for _, v := range out {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestPeakToAsterisksMapsFullScale(t *testing.T) {
	assert.Equal(t, 0, PeakToAsterisks(0))
	assert.Equal(t, 50, PeakToAsterisks(1))
	assert.Equal(t, 25, PeakToAsterisks(0.5))
}

func TestPeakToAsterisksClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 0, PeakToAsterisks(-1))
	assert.Equal(t, 50, PeakToAsterisks(2))
}

func TestStftParamsSelectsAdaptiveLadder(t *testing.T) {
	nFFT, hop := stftParams(192000, 61)
	assert.Equal(t, 8192, nFFT)
	assert.Equal(t, 4096, hop)

	nFFT, hop = stftParams(192000, 10)
	assert.Equal(t, 4096, nFFT)
	assert.Equal(t, 2048, hop)

	nFFT, hop = stftParams(48000, 61)
	assert.Equal(t, 4096, nFFT)
	assert.Equal(t, 2048, hop)

	nFFT, hop = stftParams(48000, 10)
	assert.Equal(t, 2048, nFFT)
	assert.Equal(t, 512, hop)
}

func TestListPrimaryFilesSortsMostRecentFirst(t *testing.T) {
	dir := t.TempDir()
	older := encode.BuildFilename(encode.Segment{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Channels:  1, TargetRateHz: 48000, Subtype: encode.PCM16,
		Format: config.FormatWAV, ThreadTag: "period", LocationID: "loc", HiveID: "hive",
	})
	newer := encode.BuildFilename(encode.Segment{
		Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Channels:  1, TargetRateHz: 48000, Subtype: encode.PCM16,
		Format: config.FormatWAV, ThreadTag: "period", LocationID: "loc", HiveID: "hive",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, older), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, newer), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-segment.txt"), []byte("x"), 0o644))

	files, err := listPrimaryFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, newer, files[0])
	assert.Equal(t, older, files[1])
}
