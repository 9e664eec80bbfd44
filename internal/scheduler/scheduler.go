// Package scheduler implements BMAR's SegmentScheduler (§4.5): the
// worker loops that carve timed segments out of the ring buffer,
// optionally decimate and attenuate them, and hand them to the Encoder
// under a dated directory the Supervisor resolves at segment-close
// time.
//
// Each worker is a context-driven loop that selects on a stop signal at
// every suspension point and tracks its background writes with a
// WaitGroup, generalized from a single always-on consumer loop to BMAR's
// two timed, TOD-gated archetypes (Monitor and Period, both run by Worker)
// plus the trigger-driven EventWorker, which is not TOD-gated.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elhorte/bmar/internal/config"
	"github.com/elhorte/bmar/internal/dsp"
	"github.com/elhorte/bmar/internal/encode"
	"github.com/elhorte/bmar/internal/ring"
)

// DatedPathResolver resolves the current dated output directory for a
// thread_tag (monitor-class vs. primary), matching C9's ownership of
// DatedPaths (§3, §4.9). The scheduler never creates directories itself.
type DatedPathResolver interface {
	ResolveDir(threadTag string) (string, error)
}

// TODGate reports whether now falls within a worker's configured
// time-of-day window (§4.5 step 1). config.Within implements this.
type TODGate func(now time.Time, start, end config.TimeOfDay) bool

// WorkerConfig parameterizes one Monitor or Period worker instance
// (spec §4.5's table: duration, interval, target rate, format, TOD).
type WorkerConfig struct {
	ThreadTag      string
	DurationSec    int
	IntervalSec    int
	SourceRateHz   uint32
	TargetRateHz   uint32 // 0 or equal to SourceRateHz means no decimation
	BitDepth       uint8
	Channels       int
	Format         config.FileFormat
	Quality        int
	HeadroomDB     float64
	Start, End     config.TimeOfDay
	TODGated       bool
	LocationID     string
	HiveID         string
}

// Worker runs one Monitor- or Period-class recording loop (§4.5).
type Worker struct {
	cfg      WorkerConfig
	ring     *ring.Buffer
	paths    DatedPathResolver
	logger   *log.Logger
	decim    *dsp.Decimator
	pending  sync.WaitGroup
	now      func() time.Time
}

// NewWorker constructs a Worker. now defaults to time.Now if nil (tests
// inject a fixed clock).
func NewWorker(cfg WorkerConfig, buf *ring.Buffer, paths DatedPathResolver, logger *log.Logger) *Worker {
	w := &Worker{cfg: cfg, ring: buf, paths: paths, logger: logger, now: time.Now}
	if cfg.TargetRateHz != 0 && cfg.TargetRateHz != cfg.SourceRateHz {
		w.decim = dsp.NewDecimator(int(cfg.SourceRateHz), int(cfg.TargetRateHz), cfg.Channels, logger)
	}
	return w
}

// Run executes the worker loop from §4.5 steps 1-10 until ctx is
// cancelled. It blocks; callers run it in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		if err := w.waitForTODWindow(ctx); err != nil {
			return
		}

		segmentBegin := w.ring.WriteIndex()
		if !sleepInterruptible(ctx, time.Duration(w.cfg.DurationSec)*time.Second) {
			return
		}
		segmentEnd := w.ring.WriteIndex()

		w.emitSegment(segmentBegin, segmentEnd)

		if w.cfg.IntervalSec <= 0 {
			continue
		}
		if !sleepInterruptible(ctx, time.Duration(w.cfg.IntervalSec)*time.Second) {
			return
		}
	}
}

// waitForTODWindow blocks (§4.5 step 1) until the worker is inside its
// configured window, re-checking at most every 60 s, or returns an
// error if ctx is cancelled first.
func (w *Worker) waitForTODWindow(ctx context.Context) error {
	if !w.cfg.TODGated {
		return nil
	}
	for !config.Within(w.now(), w.cfg.Start, w.cfg.End) {
		if !sleepInterruptible(ctx, 60*time.Second) {
			return ctx.Err()
		}
	}
	return nil
}

// emitSegment performs §4.5 steps 5-9 for one completed segment window.
// The file write itself runs in a background goroutine tracked by
// w.pending so the next interval timer isn't coupled to I/O latency
// (step 9); AwaitPendingWrites blocks until all such writes finish.
func (w *Worker) emitSegment(segmentBegin, segmentEnd uint64) {
	a, c, err := w.ring.SnapshotRange(segmentBegin, segmentEnd)
	if err != nil {
		w.logf("warn", "skipping segment: lost history", "thread_tag", w.cfg.ThreadTag, "err", err)
		return
	}
	samples := ring.Concat(a, c)

	targetRate := w.cfg.SourceRateHz
	if w.decim != nil {
		samples = w.decim.DecimateOffline(samples)
		targetRate = w.cfg.TargetRateHz
	}

	dsp.ApplyHeadroomDB(samples, w.cfg.HeadroomDB)

	dir, err := w.paths.ResolveDir(w.cfg.ThreadTag)
	if err != nil {
		w.logf("warn", "skipping segment: directory unavailable", "thread_tag", w.cfg.ThreadTag, "err", err)
		return
	}

	seg := encode.Segment{
		StartFrame:         segmentBegin,
		EndFrame:           segmentEnd,
		Channels:           w.cfg.Channels,
		SourceSampleRateHz: w.cfg.SourceRateHz,
		TargetRateHz:       targetRate,
		Format:             w.cfg.Format,
		Subtype:            encode.SubtypeForBitDepth(w.cfg.BitDepth),
		ThreadTag:          w.cfg.ThreadTag,
		LocationID:         w.cfg.LocationID,
		HiveID:             w.cfg.HiveID,
		Quality:            w.cfg.Quality,
		Timestamp:          w.now(),
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		path, err := encode.Write(dir, seg, samples)
		if err != nil {
			w.logf("warn", "segment write failed", "thread_tag", w.cfg.ThreadTag, "err", err)
			return
		}
		w.logf("info", "segment written", "thread_tag", w.cfg.ThreadTag, "path", path, "frames", segmentEnd-segmentBegin)
	}()
}

// AwaitPendingWrites blocks until all background segment writes started
// by this worker have completed (§4.9 shutdown sequence step "await
// pending file writes").
func (w *Worker) AwaitPendingWrites() {
	w.pending.Wait()
}

func (w *Worker) logf(level, msg string, kv ...interface{}) {
	if w.logger == nil {
		return
	}
	switch level {
	case "warn":
		w.logger.Warn(msg, kv...)
	default:
		w.logger.Info(msg, kv...)
	}
}

// sleepInterruptible sleeps for d or returns false early if ctx is
// cancelled, observing cancellation at the one suspension point a
// worker has between segments (§5 "suspension points").
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// EventWorker consumes trigger frame numbers (the TriggerFrame of each
// event detector RecordRequest) and resolves PRE/POST at request time
// (§4.5 "Event worker").
type EventWorker struct {
	cfg         WorkerConfig
	preFrames   uint64
	postFrames  uint64
	ring        *ring.Buffer
	paths       DatedPathResolver
	logger      *log.Logger
	pending     sync.WaitGroup
	now         func() time.Time
}

// NewEventWorker constructs an EventWorker. preFrames/postFrames are
// PRE/POST already converted to frame counts at the source rate.
func NewEventWorker(cfg WorkerConfig, preFrames, postFrames uint64, buf *ring.Buffer, paths DatedPathResolver, logger *log.Logger) *EventWorker {
	return &EventWorker{cfg: cfg, preFrames: preFrames, postFrames: postFrames, ring: buf, paths: paths, logger: logger, now: time.Now}
}

// Run blocks on requests until ctx is cancelled, emitting one segment
// per trigger covering [trigger-PRE, trigger+POST) (§4.5, IV5).
func (w *EventWorker) Run(ctx context.Context, requests <-chan uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case triggerFrame, ok := <-requests:
			if !ok {
				return
			}
			var start uint64
			if triggerFrame > w.preFrames {
				start = triggerFrame - w.preFrames
			}
			end := triggerFrame + w.postFrames
			w.emit(start, end)
		}
	}
}

func (w *EventWorker) emit(start, end uint64) {
	a, c, err := w.ring.SnapshotRange(start, end)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("event segment lost history", "start", start, "end", end, "err", err)
		}
		return
	}
	samples := ring.Concat(a, c)

	dsp.ApplyHeadroomDB(samples, w.cfg.HeadroomDB)

	dir, err := w.paths.ResolveDir(w.cfg.ThreadTag)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("event segment directory unavailable", "err", err)
		}
		return
	}

	seg := encode.Segment{
		StartFrame:         start,
		EndFrame:           end,
		Channels:           w.cfg.Channels,
		SourceSampleRateHz: w.cfg.SourceRateHz,
		TargetRateHz:       w.cfg.SourceRateHz,
		Format:             w.cfg.Format,
		Subtype:            encode.SubtypeForBitDepth(w.cfg.BitDepth),
		ThreadTag:          w.cfg.ThreadTag,
		LocationID:         w.cfg.LocationID,
		HiveID:             w.cfg.HiveID,
		Timestamp:          w.now(),
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		path, err := encode.Write(dir, seg, samples)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("event segment write failed", "err", err)
			}
			return
		}
		if w.logger != nil {
			w.logger.Info("event segment written", "path", path, "frames", end-start)
		}
	}()
}

// AwaitPendingWrites blocks until all background event writes finish.
func (w *EventWorker) AwaitPendingWrites() {
	w.pending.Wait()
}
