// Package bmarerr defines the typed error taxonomy shared across BMAR's
// components, so callers can distinguish recoverable per-segment failures
// from fatal configuration and device errors with errors.Is/errors.As.
package bmarerr

import "errors"

// Sentinel errors for conditions with no associated data.
var (
	// ErrNoUsableInputDevice means every candidate in the device probe
	// order (§4.2) failed to open at any fallback rate.
	ErrNoUsableInputDevice = errors.New("bmar: no usable input device")

	// ErrShutdownRequested names the graceful-shutdown condition (§7).
	// BMAR's blocking operations report an interrupted wait through their
	// context's error; none of them returns this value.
	ErrShutdownRequested = errors.New("bmar: shutdown requested")

	// ErrDurationZero is returned when a Scope or FFT renderer job is
	// run with a duration that is not > 0 (§8 boundary behaviors).
	ErrDurationZero = errors.New("bmar: renderer duration must be > 0")
)

// InsufficientHistory is returned by RingBuffer.SnapshotLast when the
// requested frame count exceeds the ring's capacity.
type InsufficientHistory struct {
	Requested uint64
	Capacity  uint64
}

func (e *InsufficientHistory) Error() string {
	return "bmar: insufficient history: requested frames exceed ring capacity"
}

// LostHistory is returned by RingBuffer.SnapshotRange when the producer
// has already overwritten part or all of the requested range.
type LostHistory struct {
	Start, End  uint64
	WriteIndex  uint64
	Capacity    uint64
}

func (e *LostHistory) Error() string {
	return "bmar: lost history: requested range no longer present in ring"
}

// MP3RateUnsupported is a configuration-time error: MP3 segments may
// only target 44100 or 48000 Hz (IV4).
type MP3RateUnsupported struct {
	TargetRateHz uint32
}

func (e *MP3RateUnsupported) Error() string {
	return "bmar: mp3 requires a target sample rate of 44100 or 48000 Hz"
}

// DirCreateFailed wraps a failure to create a dated output directory.
type DirCreateFailed struct {
	Path string
	Err  error
}

func (e *DirCreateFailed) Error() string {
	return "bmar: failed to create directory " + e.Path + ": " + e.Err.Error()
}

func (e *DirCreateFailed) Unwrap() error { return e.Err }

// EncoderFailed wraps an I/O or codec failure that aborts one segment.
type EncoderFailed struct {
	Path string
	Err  error
}

func (e *EncoderFailed) Error() string {
	return "bmar: encoder failed for " + e.Path + ": " + e.Err.Error()
}

func (e *EncoderFailed) Unwrap() error { return e.Err }

// RendererTimeout indicates a renderer job was force-cancelled after
// exceeding its wall-clock budget (§4.7).
type RendererTimeout struct {
	Kind string
}

func (e *RendererTimeout) Error() string {
	return "bmar: renderer timed out: " + e.Kind
}
