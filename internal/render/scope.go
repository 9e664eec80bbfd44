package render

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"

	"github.com/elhorte/bmar/internal/capture"
	"github.com/elhorte/bmar/internal/dsp"
)

// ScopeParams configures one oscilloscope render (§4.7 Scope).
type ScopeParams struct {
	DeviceCfg   capture.Config
	DurationSec float64
	GainDB      float64
	PlotsDir    string
}

// RunScope captures DurationSec of audio, applies gain, and renders one
// amplitude-vs-time subplot per channel clamped to +-1.0, with a graticule
// every 0.5 s.
func RunScope(ctx context.Context, logger *log.Logger, p ScopeParams) (string, error) {
	samples, err := captureEphemeral(ctx, logger, p.DeviceCfg, p.DurationSec)
	if err != nil {
		return "", fmt.Errorf("render: scope capture: %w", err)
	}

	channels := int(p.DeviceCfg.Channels)
	if channels <= 0 {
		channels = 1
	}
	rate := float64(p.DeviceCfg.SampleRateHz)

	plots := make([]*plot.Plot, channels)
	for ch := 0; ch < channels; ch++ {
		chSamples := extractChannel(samples, channels, ch)
		norm := dsp.ToNormalizedF32(chSamples)
		dsp.ApplyGainDB(norm, p.GainDB)

		pts := make(plotter.XYs, len(norm))
		for i, v := range norm {
			pts[i].X = float64(i) / rate
			pts[i].Y = float64(v)
		}

		pl := plot.New()
		pl.Title.Text = fmt.Sprintf("scope ch%d", ch+1)
		pl.X.Label.Text = "time (s)"
		pl.Y.Label.Text = "amplitude"
		pl.Y.Min, pl.Y.Max = -1.0, 1.0
		pl.X.Tick.Marker = halfSecondTicks{}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("render: scope plot ch%d: %w", ch, err)
		}
		pl.Add(line)
		plots[ch] = pl
	}

	path := filepath.Join(p.PlotsDir, fmt.Sprintf("scope_%s.png", time.Now().Format("20060102-150405")))
	if err := saveStacked(plots, 800, 240, path); err != nil {
		return "", fmt.Errorf("render: scope save: %w", err)
	}
	return path, nil
}

// halfSecondTicks places a graticule line every 0.5 s along the X axis
// (§4.7 Scope: "graticule at 0.5 s").
type halfSecondTicks struct{}

func (halfSecondTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for t := 0.0; t <= max; t += 0.5 {
		if t < min {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: t, Label: fmt.Sprintf("%.1f", t)})
	}
	return ticks
}
