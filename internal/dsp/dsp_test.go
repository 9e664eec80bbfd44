package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineInt32 generates a full-scale sine wave as channel-major interleaved
// int32 frames for a single channel.
func sineInt32(freqHz float64, sampleRateHz int, n int, amplitude float64) []int32 {
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = clampInt32(amplitude * math.MaxInt32 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRateHz)))
	}
	return out
}

func TestDecimatorPassThroughWhenRatioBelowTwo(t *testing.T) {
	d := NewDecimator(48000, 44100, 1, nil)
	assert.Equal(t, 1, d.Ratio())
	in := sineInt32(1000, 48000, 100, 0.5)
	out := d.DecimateOffline(in)
	assert.Equal(t, in, out)
}

func TestDecimatorIntegerRatioReducesLength(t *testing.T) {
	const sourceRate = 192000
	const targetRate = 48000
	d := NewDecimator(sourceRate, targetRate, 1, nil)
	require.Equal(t, 4, d.Ratio())

	in := sineInt32(1000, sourceRate, sourceRate, 0.8) // 1 second
	out := d.DecimateOffline(in)
	assert.InDelta(t, targetRate, len(out), 2)
}

func TestDecimatorRejectsBelowMinimumTarget(t *testing.T) {
	d := NewDecimator(48000, 1000, 1, nil)
	assert.GreaterOrEqual(t, 48000/d.Ratio(), MinTargetRateHz)
}

func TestApplyHeadroomZeroIsNoOp(t *testing.T) {
	samples := []int32{100, -200, 300}
	cp := append([]int32(nil), samples...)
	ApplyHeadroomDB(samples, 0)
	assert.Equal(t, cp, samples)
}

func TestApplyGainDBClamps(t *testing.T) {
	samples := []float32{0.9, -0.9}
	ApplyGainDB(samples, 12) // roughly 4x gain, should clamp
	for _, s := range samples {
		assert.LessOrEqual(t, s, float32(1.0))
		assert.GreaterOrEqual(t, s, float32(-1.0))
	}
}

func TestBandSplitterLowpassAttenuatesHighFrequency(t *testing.T) {
	const sr = 48000
	bs := NewBandSplitter(Lowpass, 5, 2000, sr)
	n := 4096
	low := make([]float64, n)
	high := make([]float64, n)
	for i := 0; i < n; i++ {
		low[i] = math.Sin(2 * math.Pi * 200 / sr * float64(i))
		high[i] = math.Sin(2 * math.Pi * 18000 / sr * float64(i))
	}
	lowOut := bs.SplitOffline(low)
	highOut := bs.SplitOffline(high)

	rms := func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			sum += v * v
		}
		return math.Sqrt(sum / float64(len(x)))
	}
	assert.Greater(t, rms(lowOut), rms(highOut))
}
