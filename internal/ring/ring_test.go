package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elhorte/bmar/internal/bmarerr"
)

func TestWriteMonotonic(t *testing.T) {
	b := New(100, 2)
	w1 := b.WriteIndex()
	b.Write(make([]int32, 2*4))
	w2 := b.WriteIndex()
	assert.Greater(t, w2, w1)
}

func TestSnapshotLastRoundtrip(t *testing.T) {
	const channels = 2
	const capacityFrames = 16
	b := New(capacityFrames, channels)

	frames := make([]int32, 0, capacityFrames*channels)
	for i := 0; i < capacityFrames; i++ {
		frames = append(frames, int32(i), int32(i+1000))
	}
	b.Write(frames)

	a, c, err := b.SnapshotLast(capacityFrames)
	require.NoError(t, err)
	got := Concat(a, c)
	assert.Equal(t, frames, got)
}

func TestSnapshotLastWrapsAroundRing(t *testing.T) {
	const channels = 1
	const capacityFrames = 4
	b := New(capacityFrames, channels)

	// Write 6 frames into a 4-frame ring: frames 0,1 get overwritten.
	b.Write([]int32{0, 1, 2, 3, 4, 5})

	a, c, err := b.SnapshotLast(4)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, 4, 5}, Concat(a, c))
}

func TestSnapshotLastInsufficientHistory(t *testing.T) {
	b := New(10, 1)
	b.Write([]int32{1, 2, 3})

	_, _, err := b.SnapshotLast(11)
	require.Error(t, err)
	var ih *bmarerr.InsufficientHistory
	assert.ErrorAs(t, err, &ih)
}

func TestSnapshotLastCapacityMinusOneSucceedsPlusOneFails(t *testing.T) {
	const capacityFrames = 8
	b := New(capacityFrames, 1)
	b.Write(make([]int32, capacityFrames))

	_, _, err := b.SnapshotLast(capacityFrames - 1)
	assert.NoError(t, err)

	_, _, err = b.SnapshotLast(capacityFrames + 1)
	assert.Error(t, err)
}

func TestSnapshotRangeLostHistory(t *testing.T) {
	const capacityFrames = 4
	b := New(capacityFrames, 1)
	// Write capacity+1 frames so frame 0 is no longer recoverable.
	b.Write(make([]int32, capacityFrames+1))

	_, _, err := b.SnapshotRange(0, 1)
	require.Error(t, err)
	var lh *bmarerr.LostHistory
	assert.ErrorAs(t, err, &lh)
}

func TestSnapshotRangeExactWindow(t *testing.T) {
	const capacityFrames = 32
	b := New(capacityFrames, 1)
	frames := make([]int32, capacityFrames)
	for i := range frames {
		frames[i] = int32(i)
	}
	b.Write(frames)

	a, c, err := b.SnapshotRange(10, 20)
	require.NoError(t, err)
	assert.Equal(t, frames[10:20], Concat(a, c))
}

// TestConcurrentWriteWhileReading exercises the single-producer,
// many-consumer contract: a background writer advances the ring while
// readers repeatedly take snapshots, and no read should ever panic or
// observe a write index that decreases.
func TestConcurrentWriteWhileReading(t *testing.T) {
	const capacityFrames = 256
	b := New(capacityFrames, 2)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]int32, 64*2)
		for {
			select {
			case <-stop:
				return
			default:
				b.Write(block)
			}
		}
	}()

	var lastSeen uint64
	for i := 0; i < 1000; i++ {
		idx := b.WriteIndex()
		assert.GreaterOrEqual(t, idx, lastSeen)
		lastSeen = idx
		if idx >= 64 {
			_, _, err := b.SnapshotLast(64)
			assert.NoError(t, err)
		}
	}
	close(stop)
	wg.Wait()
}
