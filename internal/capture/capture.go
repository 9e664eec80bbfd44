// Package capture owns the single input device stream that is the only
// producer into the ring buffer (spec §3 CaptureConfig, §4.2 CaptureEngine).
//
// The device lifecycle (InitContext once, InitDevice per attempt,
// Start/Stop/Uninit, a callback that never allocates or blocks) is
// generalized from a fixed 16kHz-mono-float32 capture path to BMAR's
// configurable multi-channel, multi-bit-depth, multi-API capture.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/elhorte/bmar/internal/bmarerr"
	"github.com/elhorte/bmar/internal/ring"
)

// APIPreference lists host APIs in probe priority order, per OS
// (spec §3 CaptureConfig.api_preference).
type APIPreference []malgo.Backend

// DefaultAPIPreference returns the platform's priority list: WASAPI,
// DirectSound, MME on Windows; CoreAudio on macOS; ALSA, PulseAudio,
// PipeWire (JACK binding) on Linux.
func DefaultAPIPreference(goos string) APIPreference {
	switch goos {
	case "windows":
		return APIPreference{malgo.BackendWasapi, malgo.BackendDsound, malgo.BackendWinmm}
	case "darwin":
		return APIPreference{malgo.BackendCoreaudio}
	default:
		return APIPreference{malgo.BackendAlsa, malgo.BackendPulseaudio, malgo.BackendJack}
	}
}

// Config mirrors spec §3's CaptureConfig: immutable after Open succeeds.
type Config struct {
	SampleRateHz   uint32
	Channels       uint8
	BitDepth       uint8 // 16, 24, or 32
	DeviceID       string // empty = not pinned
	MakeName       string // substring match on device name, e.g. "Focusrite"
	ModelNames     []string
	APIPreference  APIPreference
	BlockFrames    uint32 // 0 = driver chooses
}

// probeRates are attempted in order for each candidate device (§4.2).
func probeRates(configured uint32) []uint32 {
	return []uint32{configured, 0 /* device default, resolved per-candidate */, 44100}
}

// Engine drives exactly one malgo capture device and writes verbatim
// into a ring.Buffer (§4.2).
type Engine struct {
	logger   *log.Logger
	ring     *ring.Buffer
	cfg      Config
	actual   Config
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	overflow atomic.Uint64
	active   atomic.Bool
}

// New constructs an Engine bound to the given ring. Open must be called
// before the engine produces any frames. The engine starts active; callers
// that want it to start paused must call Pause() after Open.
func New(logger *log.Logger, buf *ring.Buffer, cfg Config) *Engine {
	if cfg.APIPreference == nil {
		cfg.APIPreference = DefaultAPIPreference(runtime.GOOS)
	}
	e := &Engine{logger: logger, ring: buf, cfg: cfg}
	e.active.Store(true)
	return e
}

// Pause stops writing captured frames into the ring without tearing down
// the device ('^' toggle listener active, §6). The callback keeps running;
// frames are simply dropped until Resume.
func (e *Engine) Pause() {
	e.active.Store(false)
}

// Resume re-enables writes into the ring after Pause.
func (e *Engine) Resume() {
	e.active.Store(true)
}

// Active reports whether captured frames are currently being written into
// the ring.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// ActualConfig reports the rate/channel count negotiated with the
// device after a successful Open (§4.2: "record actual rate and
// channel count ... and mark engine ready").
func (e *Engine) ActualConfig() Config { return e.actual }

// OverflowCount returns how many times the driver reported an input
// overflow since Open (§4.2, §7 DeviceOverflow).
func (e *Engine) OverflowCount() uint64 { return e.overflow.Load() }

// Open runs the device probe order from §4.2: configured device id, else
// API-preference + make/model filter, else all input-capable devices by
// API priority. For each candidate it tries (channels, configured rate),
// then (channels, device default rate), then (channels, 44100); if the
// candidate's channel count is below cfg.Channels it silently reduces
// (headless-friendly per §4.2).
func (e *Engine) Open(ctx context.Context) error {
	mctx, err := malgo.InitContext(e.cfg.APIPreference, malgo.ContextConfig{}, e.onMiniaudioLog)
	if err != nil {
		return fmt.Errorf("capture: init audio context: %w", err)
	}
	e.ctx = mctx

	candidates, err := e.candidateDevices()
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		e.ctx = nil
		return fmt.Errorf("%w: %v", bmarerr.ErrNoUsableInputDevice, err)
	}

	for _, info := range candidates {
		if err := e.tryOpen(info); err == nil {
			return nil
		} else if e.logger != nil {
			e.logger.Warn("capture: candidate device failed", "device", info.Name(), "err", err)
		}
	}

	mctx.Uninit()
	mctx.Free()
	e.ctx = nil
	return bmarerr.ErrNoUsableInputDevice
}

// candidateDevices enumerates and orders input-capable devices per the
// §4.2 probe order.
func (e *Engine) candidateDevices() ([]malgo.DeviceInfo, error) {
	all, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	if e.cfg.DeviceID != "" {
		for _, d := range all {
			if deviceIDString(d.ID) == e.cfg.DeviceID {
				return []malgo.DeviceInfo{d}, nil
			}
		}
		return nil, fmt.Errorf("configured device id %q not found", e.cfg.DeviceID)
	}

	filtered := all
	if e.cfg.MakeName != "" || len(e.cfg.ModelNames) > 0 {
		var subset []malgo.DeviceInfo
		for _, d := range all {
			name := d.Name()
			if e.cfg.MakeName != "" && !strings.Contains(name, e.cfg.MakeName) {
				continue
			}
			if len(e.cfg.ModelNames) > 0 && !containsAny(name, e.cfg.ModelNames) {
				continue
			}
			subset = append(subset, d)
		}
		if len(subset) > 0 {
			filtered = subset
		}
	}

	// Enumeration order already reflects API priority: ctx was created
	// with backends in preference order (§4.2 probe order step 2/3).
	return filtered, nil
}

func containsAny(name string, substrs []string) bool {
	for _, s := range substrs {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func deviceIDString(id malgo.DeviceID) string {
	return fmt.Sprintf("%x", id)
}

// tryOpen attempts the three-rate fallback ladder against one candidate.
func (e *Engine) tryOpen(info malgo.DeviceInfo) error {
	channels := uint32(e.cfg.Channels)

	for _, rate := range probeRates(e.cfg.SampleRateHz) {
		deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = formatFor(e.cfg.BitDepth)
		deviceConfig.Capture.Channels = channels
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		if rate != 0 {
			deviceConfig.SampleRate = rate
		}
		deviceConfig.PeriodSizeInFrames = e.cfg.BlockFrames

		device, err := malgo.InitDevice(e.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
			Data: e.onData,
		})
		if err != nil {
			continue
		}
		if err := device.Start(); err != nil {
			device.Uninit()
			continue
		}

		e.device = device
		e.actual = e.cfg
		e.actual.SampleRateHz = device.SampleRate()
		if device.CaptureChannels() < uint32(e.cfg.Channels) {
			e.actual.Channels = uint8(device.CaptureChannels())
		}
		if e.logger != nil {
			e.logger.Info("capture: device opened", "device", info.Name(), "rate_hz", e.actual.SampleRateHz, "channels", e.actual.Channels)
		}
		return nil
	}
	return fmt.Errorf("all probe rates failed for %s", info.Name())
}

func formatFor(bitDepth uint8) malgo.FormatType {
	switch bitDepth {
	case 24:
		return malgo.FormatS24
	case 32:
		return malgo.FormatS32
	default:
		return malgo.FormatS16
	}
}

// onData is the real-time capture callback (§4.2 callback contract): no
// locking beyond the ring's atomic write index, no logging, no I/O. It
// does allocate: bytesToInt32 makes one new int32 slice per callback.
// While paused (Pause/Resume, '^' toggle listener active) it returns
// before decoding, so the block is dropped rather than written.
func (e *Engine) onData(_ []byte, input []byte, framecount uint32) {
	if !e.active.Load() {
		return
	}
	frames := bytesToInt32(input, e.actual.BitDepth, int(framecount)*int(e.actual.Channels))
	e.ring.Write(frames)
}

// onMiniaudioLog is miniaudio's context-wide log callback. Input overflow
// (an xrun dropping frames because the callback fell behind the device)
// surfaces here as a log line rather than a dedicated callback; matching
// substrings is how BMAR turns that into the non-fatal overflow counter
// mandated by §4.2/§7 DeviceOverflow. Genuine logging (not bookkeeping)
// also flows through e.logger at Debug level.
func (e *Engine) onMiniaudioLog(message string) {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "overflow") || strings.Contains(lower, "underflow") || strings.Contains(lower, "xrun") {
		e.overflow.Add(1)
	}
	if e.logger != nil {
		e.logger.Debug("capture: miniaudio", "msg", message)
	}
}

// bytesToInt32 widens 16/24/32-bit little-endian PCM into int32 cells
// without allocating per-call beyond the returned slice (miniaudio
// itself owns the input buffer; this copy is the one unavoidable
// allocation, sized once per callback invocation by the device's fixed
// period size).
func bytesToInt32(data []byte, bitDepth uint8, nSamples int) []int32 {
	out := make([]int32, nSamples)
	switch bitDepth {
	case 32:
		for i := 0; i < nSamples; i++ {
			out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case 24:
		for i := 0; i < nSamples; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= -1 << 24
			}
			out[i] = v << 8
		}
	default: // 16
		for i := 0; i < nSamples; i++ {
			out[i] = int32(int16(binary.LittleEndian.Uint16(data[i*2:]))) << 16
		}
	}
	return out
}

// Close stops and releases the device and context. Safe to call once
// Open has returned, success or failure.
func (e *Engine) Close() {
	if e.device != nil {
		e.device.Stop()
		e.device.Uninit()
		e.device = nil
	}
	if e.ctx != nil {
		_ = e.ctx.Uninit()
		e.ctx.Free()
		e.ctx = nil
	}
}

