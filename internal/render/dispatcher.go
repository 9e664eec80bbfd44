// Package render implements BMAR's RendererDispatcher (§4.7): short-lived,
// on-demand diagnostic jobs (oscilloscope, FFT, spectrogram, VU, perf) that
// never share the capture engine's device stream and are cancelled or
// hard-killed on a budget.
//
// The dispatcher builds on a context.WithCancel + timeout-then-force-exit
// race, generalized from "one process, one shutdown" to "one registry slot
// per renderer kind, launching a new job cancels the prior".
package render

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Kind identifies a renderer registry slot (§4.7: "at most one active
// renderer instance per kind").
type Kind string

const (
	KindScope   Kind = "Scope"
	KindFFT     Kind = "Fft"
	KindSpec    Kind = "Spec"
	KindVU      Kind = "Vu"
	KindMonitor Kind = "Monitor"
	KindPerf    Kind = "Perf"
)

// HardKillGrace is the fixed grace period between a soft cancellation and
// the dispatcher giving up on the job returning (§4.7: "hard-kill after a
// 2 s grace").
const HardKillGrace = 2 * time.Second

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher owns the one-active-job-per-kind registry and the
// cancel/timeout bookkeeping for every renderer kind.
type Dispatcher struct {
	mu     sync.Mutex
	active map[Kind]*job
	logger *log.Logger
}

// NewDispatcher constructs an empty registry.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	return &Dispatcher{active: make(map[Kind]*job), logger: logger}
}

// Launch cancels any job already running under kind, then starts run in its
// own goroutine with a fresh cancellable context. If budget > 0, the
// dispatcher cancels the context after budget elapses and, if run hasn't
// returned within HardKillGrace afterward, invokes forceStop (closing the
// renderer's underlying device so a callback blocked past cancellation is
// forced to unblock). forceStop may be nil for jobs with nothing to force.
func (d *Dispatcher) Launch(kind Kind, budget time.Duration, run func(ctx context.Context), forceStop func()) {
	d.mu.Lock()
	if prev, ok := d.active[kind]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	j := &job{cancel: cancel, done: done}
	d.active[kind] = j
	d.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		run(ctx)
	}()

	if budget <= 0 {
		return
	}
	go func() {
		t := time.NewTimer(budget)
		defer t.Stop()
		select {
		case <-done:
			return
		case <-t.C:
		}
		cancel()
		if d.logger != nil {
			d.logger.Warn("render: job exceeded budget, cancelling", "kind", kind, "budget", budget)
		}
		if forceStop == nil {
			return
		}
		gt := time.NewTimer(HardKillGrace)
		defer gt.Stop()
		select {
		case <-done:
			return
		case <-gt.C:
			if d.logger != nil {
				d.logger.Warn("render: job ignored cancellation, hard-killing", "kind", kind)
			}
			forceStop()
		}
	}()
}

// Cancel stops the active job for kind, if any.
func (d *Dispatcher) Cancel(kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if j, ok := d.active[kind]; ok {
		j.cancel()
	}
}

// CancelAll stops every active job (§4.9 shutdown sequence step "cancel
// renderers").
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, j := range d.active {
		j.cancel()
	}
}

// ScopeBudget, FFTBudget and SpectrogramBudget compute the dispatcher
// timeout for each bounded-duration renderer kind (§4.7: "timeout =
// duration_s + 30 s (scope/FFT) or 240 s (spectrogram)").
func ScopeBudget(durationSec float64) time.Duration {
	return time.Duration(durationSec)*time.Second + 30*time.Second
}

func FFTBudget(durationSec float64) time.Duration {
	return ScopeBudget(durationSec)
}

func SpectrogramBudget() time.Duration {
	return 240 * time.Second
}
