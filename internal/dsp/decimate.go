package dsp

import (
	"math"

	"github.com/charmbracelet/log"
)

// MinTargetRateHz is the lowest target rate the Decimator supports
// (spec §4.3).
const MinTargetRateHz = 8000

// Decimator performs integer-ratio anti-aliased downsampling. Each
// channel gets its own 5th-order Butterworth lowpass bank (cutoff at
// half the target rate, normalized against the source Nyquist) followed
// by taking every Mth sample.
type Decimator struct {
	sourceRateHz int
	targetRateHz int
	ratio        int // M, rounded to nearest integer
	channels     int
	banks        []*SOSBank
	logger       *log.Logger
}

// NewDecimator builds a decimator for the given channel count. If the
// true ratio source/target is not an integer, it is rounded to the
// nearest integer and a warning is logged (§4.3); a ratio < 2 passes
// samples straight through with no filtering.
func NewDecimator(sourceRateHz, targetRateHz, channels int, logger *log.Logger) *Decimator {
	if targetRateHz < MinTargetRateHz {
		targetRateHz = MinTargetRateHz
	}
	exact := float64(sourceRateHz) / float64(targetRateHz)
	ratio := int(math.Round(exact))
	if ratio < 1 {
		ratio = 1
	}
	if logger != nil && math.Abs(exact-float64(ratio)) > 1e-9 {
		logger.Warn("decimation ratio is not an integer, rounding", "source_hz", sourceRateHz, "target_hz", targetRateHz, "exact_ratio", exact, "rounded_ratio", ratio)
	}

	d := &Decimator{
		sourceRateHz: sourceRateHz,
		targetRateHz: targetRateHz,
		ratio:        ratio,
		channels:     channels,
		logger:       logger,
	}
	if ratio >= 2 {
		cutoff := 0.5 * float64(targetRateHz)
		d.banks = make([]*SOSBank, channels)
		for ch := range d.banks {
			d.banks[ch] = NewSOSBank(Lowpass, 5, cutoff, float64(sourceRateHz))
		}
	}
	return d
}

// Ratio reports the (rounded) integer decimation ratio M.
func (d *Decimator) Ratio() int { return d.ratio }

// DecimateOffline filters and decimates a channel-interleaved int32
// frame buffer using zero-phase (forward-backward) filtering, since
// offline segment processing has no latency constraint (§4.3).
func (d *Decimator) DecimateOffline(interleaved []int32) []int32 {
	if d.ratio < 2 {
		return interleaved
	}
	perChannel := deinterleave(interleaved, d.channels)
	out := make([][]float64, d.channels)
	for ch := range perChannel {
		filtered := d.banks[ch].FiltFilt(perChannel[ch])
		out[ch] = decimateEvery(filtered, d.ratio)
	}
	return interleave(out)
}

// DecimateLive filters and decimates using one-pass (causal) IIR
// filtering, appropriate for streaming/live paths where latency from
// forward-backward filtering would be unacceptable (§4.3). Filter state
// persists across calls per channel.
func (d *Decimator) DecimateLive(interleaved []int32) []int32 {
	if d.ratio < 2 {
		return interleaved
	}
	perChannel := deinterleave(interleaved, d.channels)
	out := make([][]float64, d.channels)
	for ch := range perChannel {
		f := make([]float64, len(perChannel[ch]))
		copy(f, perChannel[ch])
		d.banks[ch].ProcessInPlace(f)
		out[ch] = decimateEvery(f, d.ratio)
	}
	return interleave(out)
}

func decimateEvery(x []float64, m int) []float64 {
	out := make([]float64, 0, len(x)/m+1)
	for i := 0; i < len(x); i += m {
		out = append(out, x[i])
	}
	return out
}

func deinterleave(x []int32, channels int) [][]float64 {
	nFrames := len(x) / channels
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, nFrames)
	}
	for i := 0; i < nFrames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = float64(x[i*channels+ch])
		}
	}
	return out
}

func interleave(perChannel [][]float64) []int32 {
	if len(perChannel) == 0 {
		return nil
	}
	nFrames := len(perChannel[0])
	channels := len(perChannel)
	out := make([]int32, nFrames*channels)
	for i := 0; i < nFrames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = clampInt32(perChannel[ch][i])
		}
	}
	return out
}

// clampInt32 saturates a float sample to the int32 range, the
// clamp-before-reconverting-to-int numeric policy from §4.3.
func clampInt32(v float64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// BandSplitter applies a single Butterworth low- or high-pass filter,
// used only by renderer diagnostics and the offline ultrasonic-split
// utility (§4.3). Offline use is always zero-phase.
type BandSplitter struct {
	bank *SOSBank
}

// NewBandSplitter builds a band splitter of the given order and cutoff.
func NewBandSplitter(kind Kind, order int, cutoffHz, sampleRateHz float64) *BandSplitter {
	return &BandSplitter{bank: NewSOSBank(kind, order, cutoffHz, sampleRateHz)}
}

// SplitOffline returns the zero-phase filtered signal for one channel's
// float64 samples.
func (s *BandSplitter) SplitOffline(x []float64) []float64 {
	return s.bank.FiltFilt(x)
}
