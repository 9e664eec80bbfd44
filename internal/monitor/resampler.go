package monitor

// Resampler performs simple linear-interpolation rate conversion.
// Intercom quality is explicitly not a goal (§4.8: resample from capture
// rate to output rate by linear interpolation), so this stays a plain
// linear interpolator operating on the normalized float32 view of BMAR's
// int32 channel samples.
type Resampler struct {
	ratio      float64
	lastSample float32
}

// NewResampler builds a resampler converting fromRate to toRate.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{ratio: float64(toRate) / float64(fromRate)}
}

// Resample converts input at the configured ratio via linear
// interpolation. Each call interpolates within its own input block only:
// the block's last sample is stored in lastSample, but no output position
// falls past the block's end, so consecutive blocks are not blended.
func (r *Resampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 {
		return input
	}
	inputLen := len(input)
	if inputLen == 0 {
		return input
	}

	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) / r.ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		sample1 := r.lastSample
		if srcIdx < inputLen {
			sample1 = input[srcIdx]
		}
		sample2 := sample1
		if srcIdx+1 < inputLen {
			sample2 = input[srcIdx+1]
		} else if srcIdx < inputLen {
			sample2 = input[inputLen-1]
		}

		output[i] = sample1 + (sample2-sample1)*frac
	}

	r.lastSample = input[inputLen-1]
	return output
}

// ResampleInPlace is a one-shot convenience wrapper for callers that
// don't need cross-call continuity (renderer snapshots).
func ResampleInPlace(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}
	return NewResampler(fromRate, toRate).Resample(input)
}
