package dsp

import "math"

// ToNormalizedF32 scales signed 32-bit samples into the [-1.0, 1.0]
// range used by the filtering and gain paths (§4.3 numeric policy:
// "convert to f32 for filtering, scale by 1/INT_MAX").
func ToNormalizedF32(samples []int32) []float32 {
	out := make([]float32, len(samples))
	const scale = 1.0 / math.MaxInt32
	for i, s := range samples {
		out[i] = float32(s) * scale
	}
	return out
}

// FromNormalizedF32 clamps and rescales normalized float samples back
// to int32, the write-out half of the same numeric policy.
func FromNormalizedF32(samples []float32) []int32 {
	out := make([]int32, len(samples))
	for i, s := range samples {
		v := float64(s) * math.MaxInt32
		out[i] = clampInt32(v)
	}
	return out
}

// ApplyHeadroomDB attenuates interleaved int32 samples in place by the
// configured headroom, applied pre-write per §4.3/§4.5 step 7. A zero
// value is a no-op (spec's default). The sign is ignored: 6 and -6 both
// attenuate by 6 dB.
func ApplyHeadroomDB(samples []int32, headroomDB float64) {
	if headroomDB == 0 {
		return
	}
	gain := math.Pow(10, -math.Abs(headroomDB)/20.0)
	for i, s := range samples {
		samples[i] = clampInt32(float64(s) * gain)
	}
}

// ApplyGainDB scales normalized float32 samples by the given gain in
// decibels, clamping to ±1.0 (used by the Scope/FFT renderers, §4.7).
func ApplyGainDB(samples []float32, gainDB float64) {
	gain := float32(math.Pow(10, gainDB/20.0))
	for i, s := range samples {
		v := s * gain
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		samples[i] = v
	}
}
