package capture

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"

	"github.com/elhorte/bmar/internal/ring"
)

func TestDefaultAPIPreferenceWindows(t *testing.T) {
	got := DefaultAPIPreference("windows")
	assert.Equal(t, APIPreference{malgo.BackendWasapi, malgo.BackendDsound, malgo.BackendWinmm}, got)
}

func TestDefaultAPIPreferenceDarwin(t *testing.T) {
	got := DefaultAPIPreference("darwin")
	assert.Equal(t, APIPreference{malgo.BackendCoreaudio}, got)
}

func TestDefaultAPIPreferenceLinuxFallback(t *testing.T) {
	got := DefaultAPIPreference("linux")
	assert.Equal(t, APIPreference{malgo.BackendAlsa, malgo.BackendPulseaudio, malgo.BackendJack}, got)
}

func TestFormatForBitDepth(t *testing.T) {
	assert.Equal(t, malgo.FormatS16, formatFor(16))
	assert.Equal(t, malgo.FormatS24, formatFor(24))
	assert.Equal(t, malgo.FormatS32, formatFor(32))
	assert.Equal(t, malgo.FormatS16, formatFor(0))
}

func TestProbeRatesTriesConfiguredThenDefaultThenFallback(t *testing.T) {
	got := probeRates(48000)
	assert.Equal(t, []uint32{48000, 0, 44100}, got)
}

func TestBytesToInt32Widens16Bit(t *testing.T) {
	// little-endian int16 value 0x0100 (256) in two samples.
	data := []byte{0x00, 0x01, 0xff, 0x7f}
	out := bytesToInt32(data, 16, 2)
	assert.Equal(t, int32(256)<<16, out[0])
	assert.Equal(t, int32(32767)<<16, out[1])
}

func TestBytesToInt32Widens24BitSignExtends(t *testing.T) {
	// 0xFFFFFF -> -1 as a 24-bit two's complement value, then widened to
	// int32 scale (<<8) to match the 16- and 32-bit branches' full-scale
	// convention.
	data := []byte{0xff, 0xff, 0xff}
	out := bytesToInt32(data, 24, 1)
	assert.Equal(t, int32(-1)<<8, out[0])
}

func TestBytesToInt32Passes32BitThrough(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, 0x00}
	out := bytesToInt32(data, 32, 1)
	assert.Equal(t, int32(1), out[0])
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("Focusrite Scarlett 2i2", []string{"Scarlett"}))
	assert.False(t, containsAny("Focusrite Scarlett 2i2", []string{"Behringer"}))
}

func TestOnMiniaudioLogIncrementsOverflowOnXrun(t *testing.T) {
	e := &Engine{}
	e.onMiniaudioLog("WASAPI: buffer underflow detected")
	assert.Equal(t, uint64(1), e.OverflowCount())

	e.onMiniaudioLog("device started successfully")
	assert.Equal(t, uint64(1), e.OverflowCount())
}

func TestNewEngineStartsActive(t *testing.T) {
	e := New(nil, nil, Config{})
	assert.True(t, e.Active())
}

func TestPauseResumeToggleActive(t *testing.T) {
	e := New(nil, nil, Config{})
	e.Pause()
	assert.False(t, e.Active())
	e.Resume()
	assert.True(t, e.Active())
}

func TestOnDataDropsFramesWhilePaused(t *testing.T) {
	buf := ring.New(16, 1)
	e := New(nil, buf, Config{BitDepth: 32, Channels: 1})
	e.actual = e.cfg

	data := []byte{0x01, 0x00, 0x00, 0x00}
	e.onData(nil, data, 1)
	assert.Equal(t, uint64(1), buf.WriteIndex())

	e.Pause()
	e.onData(nil, data, 1)
	assert.Equal(t, uint64(1), buf.WriteIndex(), "paused engine must not advance the ring")

	e.Resume()
	e.onData(nil, data, 1)
	assert.Equal(t, uint64(2), buf.WriteIndex())
}
