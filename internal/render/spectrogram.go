package render

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"

	"github.com/elhorte/bmar/internal/encode"
)

// SpectrogramParams configures one spectrogram render (§4.7 Spectrogram).
type SpectrogramParams struct {
	PrimaryRawDir string
	Offset        int // 0 = most recent file
	Channel       int // 0-based
	Axis          Axis
	DBMin, DBMax  float64
	PlotsDir      string
}

// Axis selects the spectrogram's frequency axis scale.
type Axis int

const (
	AxisLinear Axis = iota
	AxisLog
)

// listPrimaryFiles returns primary-format files under dir, most recent
// first, parsed via the same filename contract the encoder writes (§4.7:
// "time-sorted list of primary-format files in primary_raw_dir").
func listPrimaryFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type named struct {
		name string
		ts   time.Time
	}
	var files []named
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parsed, err := encode.ParseFilename(e.Name())
		if err != nil {
			continue
		}
		files = append(files, named{name: e.Name(), ts: parsed.Timestamp})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ts.After(files[j].ts) })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.name
	}
	return out, nil
}

// stftParams returns the adaptive n_fft/hop_length ladder from §4.7.
func stftParams(sampleRateHz int, durationSec float64) (nFFT, hop int) {
	switch {
	case sampleRateHz > 96000 && durationSec > 60:
		return 8192, 4096
	case sampleRateHz > 96000:
		return 4096, 2048
	case durationSec > 60:
		return 4096, 2048
	default:
		return 2048, 512
	}
}

// decodeWAVChannel loads one channel of a WAV file as normalized float64
// samples, the only primary format with a confirmed decode path in the
// corpus (go-audio/wav). Other container formats are a recoverable
// "skip image" error here, matching §4.9's directory-failure policy
// extended to renderer input failures.
func decodeWAVChannel(path string, channel int) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("render: spectrogram: not a valid WAV file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("render: spectrogram: decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	if channel < 0 || channel >= channels {
		channel = 0
	}
	maxVal := float64(int(1) << (buf.SourceBitDepth - 1))
	n := len(buf.Data) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(buf.Data[i*channels+channel]) / maxVal
	}
	return out, buf.Format.SampleRate, nil
}

// RunSpectrogram loads the file at Offset into the time-sorted list of
// primary files, computes an STFT with the adaptive n_fft/hop ladder, and
// renders a dB-magnitude heatmap.
func RunSpectrogram(p SpectrogramParams) (string, error) {
	files, err := listPrimaryFiles(p.PrimaryRawDir)
	if err != nil {
		return "", fmt.Errorf("render: spectrogram: list files: %w", err)
	}
	if p.Offset < 0 || p.Offset >= len(files) {
		return "", fmt.Errorf("render: spectrogram: offset %d out of range (%d files)", p.Offset, len(files))
	}
	name := files[p.Offset]
	path := filepath.Join(p.PrimaryRawDir, name)

	samples, sampleRateHz, err := decodeWAVChannel(path, p.Channel)
	if err != nil {
		return "", err
	}

	durationSec := float64(len(samples)) / float64(sampleRateHz)
	nFFT, hop := stftParams(sampleRateHz, durationSec)
	if nFFT > len(samples) {
		nFFT = len(samples)
		hop = nFFT / 2
		if hop < 1 {
			hop = 1
		}
	}

	ones := make([]float64, nFFT)
	for i := range ones {
		ones[i] = 1
	}
	win := window.Hann(ones)
	fft := fourier.NewFFT(nFFT)

	var frames [][]float64
	maxDB := math.Inf(-1)
	for start := 0; start+nFFT <= len(samples); start += hop {
		frame := make([]float64, nFFT)
		for i := 0; i < nFFT; i++ {
			frame[i] = samples[start+i] * win[i]
		}
		coeff := fft.Coefficients(nil, frame)
		mags := make([]float64, len(coeff))
		for i, c := range coeff {
			mag := math.Hypot(real(c), imag(c))
			mags[i] = mag
			db := 20 * math.Log10(mag+1e-12)
			if db > maxDB {
				maxDB = db
			}
		}
		frames = append(frames, mags)
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("render: spectrogram: file too short for a single STFT frame")
	}

	grid := &spectrogramGrid{
		frames:   frames,
		rateHz:   sampleRateHz,
		nFFT:     nFFT,
		hop:      hop,
		maxDB:    maxDB,
		dbMin:    p.DBMin,
		dbMax:    p.DBMax,
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("spectrogram ch%d %s", p.Channel+1, name)
	pl.X.Label.Text = "time (s)"
	if p.Axis == AxisLog {
		pl.Y.Label.Text = "frequency (Hz, log)"
		pl.Y.Scale = plot.LogScale{}
	} else {
		pl.Y.Label.Text = "frequency (Hz)"
	}

	heat := plotter.NewHeatMap(grid, palette.Heat(32, 1))
	pl.Add(heat)

	outPath := filepath.Join(p.PlotsDir, fmt.Sprintf("spectrogram_%s.png", time.Now().Format("20060102-150405")))
	if err := saveSingle(pl, 800, 400, outPath); err != nil {
		return "", fmt.Errorf("render: spectrogram save: %w", err)
	}
	return outPath, nil
}

// spectrogramGrid adapts an STFT magnitude matrix to plotter.GridXYZ,
// converting to dB with the maximum over the whole STFT as reference
// (§4.7: "Convert magnitude to dB (ref=max)") and clamping to
// [dbMin, dbMax].
type spectrogramGrid struct {
	frames       [][]float64
	rateHz       int
	nFFT, hop    int
	maxDB        float64
	dbMin, dbMax float64
}

func (g *spectrogramGrid) Dims() (c, r int) {
	return len(g.frames), len(g.frames[0])
}

func (g *spectrogramGrid) X(c int) float64 {
	return float64(c*g.hop) / float64(g.rateHz)
}

func (g *spectrogramGrid) Y(r int) float64 {
	return float64(r) * float64(g.rateHz) / float64(g.nFFT)
}

func (g *spectrogramGrid) Z(c, r int) float64 {
	mag := g.frames[c][r]
	db := 20*math.Log10(mag+1e-12) - g.maxDB
	if db < g.dbMin {
		db = g.dbMin
	}
	if db > g.dbMax {
		db = g.dbMax
	}
	return db
}
