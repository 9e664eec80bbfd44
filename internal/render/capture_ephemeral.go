package render

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elhorte/bmar/internal/bmarerr"
	"github.com/elhorte/bmar/internal/capture"
	"github.com/elhorte/bmar/internal/ring"
)

// captureEphemeral opens its own capture.Engine instance — independent of
// the long-lived engine feeding C1 — runs it for durationSec, and returns
// the frames captured (§4.7: "acquire duration_s x rate frames via
// ephemeral input stream"; §4.7 invariant: "never share the capture stream
// with C2"). A distinct Engine always opens a distinct device handle, even
// if it resolves to the same physical device, satisfying that invariant.
func captureEphemeral(ctx context.Context, logger *log.Logger, cfg capture.Config, durationSec float64) ([]int32, error) {
	if durationSec <= 0 {
		return nil, bmarerr.ErrDurationZero
	}
	totalFrames := uint64(durationSec * float64(cfg.SampleRateHz))
	capacity := totalFrames + uint64(cfg.SampleRateHz) // one second of headroom
	buf := ring.New(capacity, int(cfg.Channels))

	engine := capture.New(logger, buf, cfg)
	if err := engine.Open(ctx); err != nil {
		return nil, err
	}
	defer engine.Close()

	t := time.NewTimer(time.Duration(durationSec * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	a, c, err := buf.SnapshotLast(totalFrames)
	if err != nil {
		return nil, err
	}
	return ring.Concat(a, c), nil
}

// extractChannel de-interleaves one 0-based channel out of a frame-major
// sample buffer.
func extractChannel(samples []int32, channels, channel int) []int32 {
	if channels <= 0 {
		channels = 1
	}
	if channel < 0 || channel >= channels {
		channel = 0
	}
	n := len(samples) / channels
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = samples[i*channels+channel]
	}
	return out
}
