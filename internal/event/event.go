// Package event implements BMAR's level-threshold trigger (§4.6
// EventDetector): a small state machine over a strided projection of
// the ring buffer's most recent samples, debounced so one excursion
// yields exactly one RecordRequest.
package event

import "sync"

// State names the detector's two states (§4.6).
type State int

const (
	Idle State = iota
	Capturing
)

func (s State) String() string {
	if s == Capturing {
		return "capturing"
	}
	return "idle"
}

// RecordRequest is emitted once per completed excursion. The event
// worker resolves PRE/POST from its own configuration at request time
// (§4.6: "the event worker resolves PRE/POST at request-time").
type RecordRequest struct {
	TriggerFrame uint64
}

// Config mirrors the Event section of BMAR's configuration (§6).
type Config struct {
	ThresholdAbs int32
	PostFrames   uint64 // POST * sample_rate, used to compute the deadline
}

// Detector is safe for one producer (FeedBlock) and one consumer
// (Requests channel). It owns no ring reference: callers compute the
// peak-absolute projection themselves and feed it block-by-block via
// FeedBlock, keeping the detector decoupled from C1's storage layout.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	trigger  uint64
	deadline uint64

	requests chan RecordRequest
}

// New constructs a Detector in the Idle state.
func New(cfg Config) *Detector {
	return &Detector{
		cfg:      cfg,
		state:    Idle,
		requests: make(chan RecordRequest, 1),
	}
}

// Requests is the channel the event worker blocks on (§4.5 "Event
// worker: blocks on C6's trigger queue").
func (d *Detector) Requests() <-chan RecordRequest { return d.requests }

// State reports the detector's current state, mainly for tests and
// diagnostics.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// FeedBlock advances the detector with one capture block's worth of
// samples on the configured monitor channel, already extracted by the
// caller (peak-absolute projection, §4.6 "strided projection of the
// most recent sample per configured monitor channel"). writeIndex is
// the ring's write_index at the end of this block, used as the "now"
// frame count the state machine transitions on.
func (d *Detector) FeedBlock(peakAbs int32, writeIndex uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case Idle:
		if abs32(peakAbs) >= d.cfg.ThresholdAbs {
			d.state = Capturing
			d.trigger = writeIndex
			d.deadline = writeIndex + d.cfg.PostFrames
		}
	case Capturing:
		// Debounce: re-triggers are suppressed until Idle (§4.6).
		if writeIndex >= d.deadline {
			d.state = Idle
			req := RecordRequest{TriggerFrame: d.trigger}
			select {
			case d.requests <- req:
			default:
				// Worker is still draining a prior request; drop rather
				// than block the feeder, which runs on the same path as
				// capture bookkeeping.
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// PeakAbs returns the largest absolute sample value across the given
// channel indices in one interleaved block (§4.6 "max across channels
// if 'all'").
func PeakAbs(block []int32, channels int, channelIndices []int) int32 {
	var peak int32
	frames := len(block) / channels
	for f := 0; f < frames; f++ {
		base := f * channels
		for _, ch := range channelIndices {
			v := abs32(block[base+ch])
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}
