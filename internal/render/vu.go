package render

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elhorte/bmar/internal/capture"
	"github.com/elhorte/bmar/internal/ring"
)

// vuPollInterval is how often RunVU samples new frames off its ephemeral
// ring; small enough to feel live, large enough not to busy-loop.
const vuPollInterval = 100 * time.Millisecond

// VUParams configures the continuous VU meter (§4.7 VU).
type VUParams struct {
	DeviceCfg capture.Config
	Channel   int // 0-based; silently reduced to 0 on overrun
	Print     func(string)
}

// PeakToAsterisks maps a peak absolute sample value (normalized [-1,1]
// range already applied by the caller) to a 0..50 asterisk count (§4.7
// VU: "maps to 0..50 asterisks").
func PeakToAsterisks(peakAbs float64) int {
	if peakAbs < 0 {
		peakAbs = 0
	}
	if peakAbs > 1 {
		peakAbs = 1
	}
	n := int(math.Round(peakAbs * 50))
	if n > 50 {
		n = 50
	}
	return n
}

// RunVU opens its own ephemeral capture stream and prints an
// overprinting asterisk meter on the selected channel until ctx is
// cancelled. If Channel exceeds the device's channel count, it is
// silently reduced to 0 (§4.7 VU).
func RunVU(ctx context.Context, logger *log.Logger, p VUParams) error {
	capacity := uint64(p.DeviceCfg.SampleRateHz) * 2
	buf := ring.New(capacity, int(p.DeviceCfg.Channels))

	engine := capture.New(logger, buf, p.DeviceCfg)
	if err := engine.Open(ctx); err != nil {
		return fmt.Errorf("render: vu: %w", err)
	}
	defer engine.Close()

	channels := int(engine.ActualConfig().Channels)
	ch := p.Channel
	if ch < 0 || ch >= channels {
		ch = 0
	}

	print := p.Print
	if print == nil {
		print = func(s string) { fmt.Print(s) }
	}

	var lastIdx uint64
	ticker := time.NewTicker(vuPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			print("\n")
			return nil
		case <-ticker.C:
			writeIdx := buf.WriteIndex()
			if writeIdx <= lastIdx {
				continue
			}
			a, c, err := buf.SnapshotRange(lastIdx, writeIdx)
			if err != nil {
				lastIdx = writeIdx
				continue
			}
			lastIdx = writeIdx
			samples := ring.Concat(a, c)

			var peak int32
			for i := ch; i < len(samples); i += channels {
				v := samples[i]
				if v < 0 {
					v = -v
				}
				if v > peak {
					peak = v
				}
			}
			normalized := float64(peak) / math.MaxInt32
			n := PeakToAsterisks(normalized)
			print("\r" + repeatAsterisk(n) + spacesFill(50-n))
		}
	}
}

func repeatAsterisk(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}

func spacesFill(n int) string {
	if n < 0 {
		n = 0
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
