package render

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"

	"github.com/elhorte/bmar/internal/capture"
	"github.com/elhorte/bmar/internal/dsp"
)

// FFTParams configures one FFT render (§4.7 FFT).
type FFTParams struct {
	DeviceCfg   capture.Config
	Channel     int // 0-based
	DurationSec float64
	GainDB      float64
	BucketHz    float64 // default 1000
	PlotsDir    string
}

// RunFFT captures DurationSec of audio on one channel, computes a real FFT,
// bin-averages into buckets of width BucketHz, and renders amplitude vs
// frequency.
//
// bucket_size = bucket_hz * N / rate; buckets = (N/2) / bucket_size (§4.7).
func RunFFT(ctx context.Context, logger *log.Logger, p FFTParams) (string, error) {
	samples, err := captureEphemeral(ctx, logger, p.DeviceCfg, p.DurationSec)
	if err != nil {
		return "", fmt.Errorf("render: fft capture: %w", err)
	}

	channels := int(p.DeviceCfg.Channels)
	chSamples := extractChannel(samples, channels, p.Channel)
	norm := dsp.ToNormalizedF32(chSamples)
	dsp.ApplyGainDB(norm, p.GainDB)

	n := len(norm)
	if n == 0 {
		return "", fmt.Errorf("render: fft: empty capture")
	}
	seq := make([]float64, n)
	for i, v := range norm {
		seq[i] = float64(v)
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, seq)

	rate := float64(p.DeviceCfg.SampleRateHz)
	bucketHz := p.BucketHz
	if bucketHz <= 0 {
		bucketHz = 1000
	}
	bucketSize := bucketSizeFor(bucketHz, n, rate)
	mags := bucketAverage(coeff, bucketSize)

	pts := make(plotter.XYs, len(mags))
	for b, m := range mags {
		pts[b].X = float64(b) * bucketHz
		pts[b].Y = m
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("fft ch%d", p.Channel+1)
	pl.X.Label.Text = "frequency (Hz)"
	pl.Y.Label.Text = "amplitude"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("render: fft plot: %w", err)
	}
	pl.Add(line)

	path := filepath.Join(p.PlotsDir, fmt.Sprintf("fft_%s.png", time.Now().Format("20060102-150405")))
	if err := saveSingle(pl, 800, 400, path); err != nil {
		return "", fmt.Errorf("render: fft save: %w", err)
	}
	return path, nil
}

// bucketSizeFor computes bucket_size = bucket_hz * N / rate (§4.7),
// floored to at least one FFT bin per bucket.
func bucketSizeFor(bucketHz float64, n int, rate float64) int {
	size := int(bucketHz * float64(n) / rate)
	if size < 1 {
		size = 1
	}
	return size
}

// bucketAverage bin-averages FFT coefficient magnitudes into fixed-width
// buckets (§4.7: "bin-average into buckets of width bucket_hz").
func bucketAverage(coeff []complex128, bucketSize int) []float64 {
	nBuckets := len(coeff) / bucketSize
	if nBuckets < 1 {
		nBuckets = 1
	}
	out := make([]float64, nBuckets)
	for b := 0; b < nBuckets; b++ {
		start := b * bucketSize
		end := start + bucketSize
		if end > len(coeff) {
			end = len(coeff)
		}
		var sum float64
		count := 0
		for i := start; i < end; i++ {
			sum += math.Hypot(real(coeff[i]), imag(coeff[i]))
			count++
		}
		if count > 0 {
			sum /= float64(count)
		}
		out[b] = sum
	}
	return out
}
