// Package ring implements the fixed-capacity, single-producer/many-consumer
// sample ring at the center of BMAR's capture path (spec §3, §4.1).
//
// The producer (the audio callback in internal/capture) is the only writer.
// It never allocates and never blocks: Write copies frames into the
// backing array and publishes a new write index with a release store.
// Readers load that index with an acquire load and copy out a snapshot of
// past frames; they never coordinate with the producer and never wait.
package ring

import (
	"sync/atomic"

	"github.com/elhorte/bmar/internal/bmarerr"
)

// Buffer is a fixed-size, channel-interleaved frame ring. One Sample is
// one int32 cell regardless of the configured bit depth; encode narrows or
// widens at write-out time (internal/encode).
type Buffer struct {
	data           []int32 // capacityFrames * channels, frame-major
	capacityFrames uint64
	channels       int
	writeIdx       atomic.Uint64 // monotonic frame count, never wraps
}

// New allocates a ring able to hold capacityFrames frames of the given
// channel count. The backing array is allocated once and never resized.
func New(capacityFrames uint64, channels int) *Buffer {
	if channels <= 0 {
		panic("ring: channels must be > 0")
	}
	return &Buffer{
		data:           make([]int32, capacityFrames*uint64(channels)),
		capacityFrames: capacityFrames,
		channels:       channels,
	}
}

// CapacityFrames returns the ring's fixed frame capacity.
func (b *Buffer) CapacityFrames() uint64 { return b.capacityFrames }

// Channels returns the configured interleaved channel count.
func (b *Buffer) Channels() int { return b.channels }

// WriteIndex returns the current monotonic frame count (§4.1).
func (b *Buffer) WriteIndex() uint64 { return b.writeIdx.Load() }

// Write copies frames (channel-interleaved) into the ring and advances the
// write index. len(frames) must be a multiple of Channels(); Write never
// fails and never blocks, satisfying the capture callback's real-time
// contract (§4.2, §5).
func (b *Buffer) Write(frames []int32) {
	ch := b.channels
	if len(frames) == 0 {
		return
	}
	if len(frames)%ch != 0 {
		// Precondition violation: the caller must align to frame
		// boundaries. We truncate rather than panic in the audio
		// callback's call path.
		frames = frames[:len(frames)-(len(frames)%ch)]
		if len(frames) == 0 {
			return
		}
	}
	nFrames := uint64(len(frames) / ch)
	start := b.writeIdx.Load() % b.capacityFrames
	cap := b.capacityFrames

	if nFrames >= cap {
		// Writing more than a full lap: only the tail matters. Its first
		// frame lands at the slot its absolute frame index maps to.
		tailFrames := frames[len(frames)-int(cap)*ch:]
		tailStart := (start + nFrames) % cap
		split := (cap - tailStart) * uint64(ch)
		copy(b.data[tailStart*uint64(ch):], tailFrames[:split])
		copy(b.data, tailFrames[split:])
	} else {
		firstFrames := cap - start
		if firstFrames > nFrames {
			firstFrames = nFrames
		}
		copy(b.data[start*uint64(ch):], frames[:firstFrames*uint64(ch)])
		remaining := nFrames - firstFrames
		if remaining > 0 {
			copy(b.data, frames[firstFrames*uint64(ch):])
		}
	}

	b.writeIdx.Add(nFrames)
}

// SnapshotLast returns up to two contiguous sample slices whose
// concatenation is the most recent nFrames frames ending at the
// instantaneous write index (§4.1, IV2). It fails with
// *bmarerr.InsufficientHistory if nFrames exceeds the ring's capacity.
func (b *Buffer) SnapshotLast(nFrames uint64) (a, c []int32, err error) {
	if nFrames > b.capacityFrames {
		return nil, nil, &bmarerr.InsufficientHistory{Requested: nFrames, Capacity: b.capacityFrames}
	}
	end := b.writeIdx.Load()
	start := uint64(0)
	if end > nFrames {
		start = end - nFrames
	}
	return b.sliceRange(start, end)
}

// SnapshotRange returns the frames in [startFrame, endFrame), used by the
// event detector and scheduler to fetch a specific pre/post window
// (§4.1, §4.6, IV5). It fails with *bmarerr.LostHistory if the producer
// has already overwritten part of the requested range.
func (b *Buffer) SnapshotRange(startFrame, endFrame uint64) (a, c []int32, err error) {
	if endFrame < startFrame {
		startFrame, endFrame = endFrame, startFrame
	}
	writeIdx := b.writeIdx.Load()
	if writeIdx-startFrame > b.capacityFrames {
		return nil, nil, &bmarerr.LostHistory{Start: startFrame, End: endFrame, WriteIndex: writeIdx, Capacity: b.capacityFrames}
	}
	if endFrame > writeIdx {
		endFrame = writeIdx
	}
	return b.sliceRange(startFrame, endFrame)
}

// sliceRange returns [start, end) frames as at most two contiguous,
// zero-copy sample slices into the ring's backing array (§4.1: "readers
// ... take at most two contiguous slices"). The caller must copy out of
// these slices before returning to its caller if it needs a stable view
// that survives the producer lapping the ring again.
func (b *Buffer) sliceRange(start, end uint64) (a, c []int32, err error) {
	if end <= start {
		return nil, nil, nil
	}
	ch := uint64(b.channels)
	cap := b.capacityFrames
	nFrames := end - start
	startMod := start % cap

	firstFrames := cap - startMod
	if firstFrames >= nFrames {
		return b.data[startMod*ch : (startMod+nFrames)*ch], nil, nil
	}
	a = b.data[startMod*ch : cap*ch]
	remaining := nFrames - firstFrames
	c = b.data[0 : remaining*ch]
	return a, c, nil
}

// Concat copies the two slices returned by a snapshot into one owned,
// contiguous buffer. Callers that need a stable view beyond the current
// call frame (encoder workers, decimator input) should use this rather
// than holding onto the raw ring slices.
func Concat(a, c []int32) []int32 {
	if len(c) == 0 {
		out := make([]int32, len(a))
		copy(out, a)
		return out
	}
	out := make([]int32, len(a)+len(c))
	copy(out, a)
	copy(out[len(a):], c)
	return out
}
