// Package supervisor implements BMAR's Supervisor (§4.9): the owner of
// cancellation tokens, dated-directory rollover, signal handling, and the
// renderer registry. No other component creates a directory or installs a
// signal handler — everything else receives paths and contexts from here.
//
// Signal handling races a sigChan fed by signal.Notify against a done
// channel, with two distinct deadlines: a 2 s repeat-signal window that
// forces an immediate exit, and a per-worker 5 s soft deadline during the
// orderly shutdown sequence.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/elhorte/bmar/internal/bmarerr"
	"github.com/elhorte/bmar/internal/encode"
	"github.com/elhorte/bmar/internal/render"
)

// repeatSignalWindow is how long after the first shutdown signal a second
// one still counts as "re-interrupt" and forces an immediate exit (§4.9).
const repeatSignalWindow = 2 * time.Second

// perWorkerShutdownDeadline bounds how long the shutdown sequence waits
// for any one worker before moving on (§4.9: "wait up to 5 s for each
// with a soft deadline").
const perWorkerShutdownDeadline = 5 * time.Second

// Supervisor owns dated-directory rollover, signal handling, and the
// renderer registry (§4.9).
type Supervisor struct {
	logger     *log.Logger
	dataRoot   string
	locationID string
	hiveID     string
	renderers  *render.Dispatcher
	now        func() time.Time

	mu       sync.Mutex
	dirCache map[string]struct{}
}

// New constructs a Supervisor rooted at dataRoot/locationID/hiveID.
func New(logger *log.Logger, dataRoot, locationID, hiveID string) *Supervisor {
	return &Supervisor{
		logger:     logger,
		dataRoot:   dataRoot,
		locationID: locationID,
		hiveID:     hiveID,
		renderers:  render.NewDispatcher(logger),
		now:        time.Now,
		dirCache:   make(map[string]struct{}),
	}
}

// Renderers returns the renderer registry jobs should launch through, so
// the dispatcher's one-active-per-kind invariant is shared across the
// whole process.
func (s *Supervisor) Renderers() *render.Dispatcher { return s.renderers }

func (s *Supervisor) baseDir() string {
	return filepath.Join(s.dataRoot, s.locationID, s.hiveID)
}

// datedDir lazily creates and returns {baseDir}/parts.../yymmdd, caching
// successful creations so repeated calls within the same day are a pure
// path join (§4.9: "lazily creates directories ... with recursive
// mkdir").
func (s *Supervisor) datedDir(parts ...string) (string, error) {
	yymmdd, err := strftime.Format("%y%m%d", s.now())
	if err != nil {
		return "", fmt.Errorf("supervisor: format date: %w", err)
	}
	segments := append(append([]string{s.baseDir()}, parts...), yymmdd)
	dir := filepath.Join(segments...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirCache[dir]; ok {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &bmarerr.DirCreateFailed{Path: dir, Err: err}
	}
	s.dirCache[dir] = struct{}{}
	return dir, nil
}

// ResolveDir implements scheduler.DatedPathResolver: monitor-class
// thread_tags route to audio/mp3, everything else to audio/raw (§4.4
// "Directory routed by thread_tag").
func (s *Supervisor) ResolveDir(threadTag string) (string, error) {
	if encode.IsMonitorClass(threadTag) {
		return s.datedDir("audio", "mp3")
	}
	return s.datedDir("audio", "raw")
}

// ResolvePlotsDir returns today's plots directory for renderer output.
func (s *Supervisor) ResolvePlotsDir() (string, error) {
	return s.datedDir("plots")
}

// ResolvePrimaryRawDir returns today's primary raw directory, the
// spectrogram renderer's source of "last-written file" (§4.7).
func (s *Supervisor) ResolvePrimaryRawDir() (string, error) {
	return s.datedDir("audio", "raw")
}

// WaitForShutdownSignal installs SIGINT/SIGTERM handling and returns a
// channel that closes on the first signal. If a second signal arrives
// within repeatSignalWindow of the first, the process exits immediately
// (§4.9: "re-interrupt within 2 s -> forced exit") rather than waiting for
// the caller's graceful shutdown to finish.
func (s *Supervisor) WaitForShutdownSignal() <-chan struct{} {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	triggered := make(chan struct{})
	go func() {
		<-sigChan
		close(triggered)
		if s.logger != nil {
			s.logger.Info("supervisor: shutdown signal received, press again within 2s to force exit")
		}
		select {
		case <-sigChan:
			if s.logger != nil {
				s.logger.Warn("supervisor: forced exit on repeat signal")
			}
			os.Exit(130)
		case <-time.After(repeatSignalWindow):
			signal.Stop(sigChan)
		}
	}()
	return triggered
}

// ShutdownTarget names one background component the shutdown sequence
// must wait for (a scheduler worker's pending writes, an event worker,
// the monitor intercom, ...).
type ShutdownTarget struct {
	Name  string
	Await func()
}

// AwaitWithDeadline waits for each target's Await to return, up to
// perWorkerShutdownDeadline, logging (not blocking indefinitely on) any
// target that exceeds it (§4.9 step "wait up to 5 s for each with a soft
// deadline").
func (s *Supervisor) AwaitWithDeadline(targets []ShutdownTarget) {
	for _, target := range targets {
		done := make(chan struct{})
		go func(await func()) {
			await()
			close(done)
		}(target.Await)

		select {
		case <-done:
		case <-time.After(perWorkerShutdownDeadline):
			if s.logger != nil {
				s.logger.Warn("supervisor: shutdown wait exceeded deadline", "target", target.Name)
			}
		}
	}
}

// Shutdown runs the full §4.9 sequence in order: (a) cancel worker
// contexts, (b) wait with a soft deadline for each worker loop to return,
// (c) cancel renderers, (d) stop the capture engine, (e) await each
// worker's background file writes. Callers exit after Shutdown returns.
func (s *Supervisor) Shutdown(cancelWorkers context.CancelFunc, loopTargets []ShutdownTarget, stopCapture func(), writeTargets []ShutdownTarget) {
	cancelWorkers()
	s.AwaitWithDeadline(loopTargets)
	s.renderers.CancelAll()
	if stopCapture != nil {
		stopCapture()
	}
	s.AwaitWithDeadline(writeTargets)
}
