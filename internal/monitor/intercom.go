// Package monitor implements BMAR's Monitor (Intercom, §4.8): a duplex
// worker that owns its own input and output device streams, independent
// of the capture engine's ring buffer, and passes the selected channel
// through to a local playback device at low latency.
//
// It pairs two persistent malgo devices through a lock-free SPSC ring
// between their callbacks, with atomic flags read on every block instead
// of stream restarts, generalized from a one-directional player/capturer
// split into one duplex passthrough with a live-selectable input channel.
package monitor

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// ringSize is large enough to absorb scheduling jitter between the input
// and output callback threads without growing unbounded.
const ringSize = 65536

// passRing is a lock-free single-producer/single-consumer float32 ring,
// shared here by both the input callback (producer) and the output
// callback (consumer).
type passRing struct {
	samples [ringSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (r *passRing) push(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	available := ringSize - int(head-tail)
	n := len(samples)
	if n > available {
		n = available
	}
	for i := 0; i < n; i++ {
		r.samples[(head+uint64(i))%ringSize] = samples[i]
	}
	r.head.Add(uint64(n))
	return n
}

func (r *passRing) pop() (float32, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head == tail {
		return 0, false
	}
	s := r.samples[tail%ringSize]
	r.tail.Add(1)
	return s, true
}

func (r *passRing) clear() {
	r.tail.Store(r.head.Load())
}

// Config parameterizes one Intercom instance (§4.8, §6 INTERCOM_SAMPLERATE,
// SOUND_OUT_*).
type Config struct {
	CaptureDeviceID  string
	PlaybackDeviceID string
	CaptureRateHz    uint32
	OutputRateHz     uint32
	Channel          int // 0-based, clamped to 0 on overrun
}

// Intercom is the duplex passthrough worker.
type Intercom struct {
	logger     *log.Logger
	cfg        Config
	ctx        *malgo.AllocatedContext
	in         *malgo.Device
	out        *malgo.Device
	ring       *passRing
	channel    atomic.Int32
	resampler  *Resampler
	captureChs uint32
}

// New constructs an Intercom. Open must be called before audio flows.
func New(logger *log.Logger, cfg Config) *Intercom {
	m := &Intercom{logger: logger, cfg: cfg, ring: &passRing{}}
	m.channel.Store(int32(cfg.Channel))
	return m
}

// SetChannel changes the monitored input channel without restarting
// either stream; the input callback reads it on the next block (§4.8
// "no stream restart").
func (m *Intercom) SetChannel(ch int) {
	m.channel.Store(int32(ch))
}

// Open starts both the input and output devices.
func (m *Intercom) Open() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("monitor: init audio context: %w", err)
	}
	m.ctx = ctx

	capConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	capConfig.Capture.Format = malgo.FormatF32
	capConfig.Capture.Channels = 0 // device default; resolved post-open
	capConfig.SampleRate = m.cfg.CaptureRateHz
	if m.cfg.CaptureDeviceID != "" {
		capConfig.Capture.DeviceID = deviceIDFromHex(m.cfg.CaptureDeviceID)
	}

	in, err := malgo.InitDevice(ctx.Context, capConfig, malgo.DeviceCallbacks{Data: m.onInput})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("monitor: init capture device: %w", err)
	}
	m.in = in
	m.captureChs = in.CaptureChannels()
	if m.cfg.CaptureRateHz != in.SampleRate() {
		m.resampler = NewResampler(int(in.SampleRate()), int(m.cfg.OutputRateHz))
	} else if in.SampleRate() != m.cfg.OutputRateHz {
		m.resampler = NewResampler(int(in.SampleRate()), int(m.cfg.OutputRateHz))
	}

	outConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	outConfig.Playback.Format = malgo.FormatF32
	outConfig.Playback.Channels = 1
	outConfig.SampleRate = m.cfg.OutputRateHz
	if m.cfg.PlaybackDeviceID != "" {
		outConfig.Playback.DeviceID = deviceIDFromHex(m.cfg.PlaybackDeviceID)
	}

	out, err := malgo.InitDevice(ctx.Context, outConfig, malgo.DeviceCallbacks{Data: m.onOutput})
	if err != nil {
		in.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("monitor: init playback device: %w", err)
	}
	m.out = out

	if err := in.Start(); err != nil {
		return fmt.Errorf("monitor: start capture: %w", err)
	}
	if err := out.Start(); err != nil {
		return fmt.Errorf("monitor: start playback: %w", err)
	}
	return nil
}

// onInput extracts the currently-selected channel from each incoming
// block, resamples if needed, and pushes the mono float32 stream into
// the pass ring. Channel validation is re-done every block so
// SetChannel takes effect without a stream restart.
func (m *Intercom) onInput(_ []byte, input []byte, framecount uint32) {
	ch := int(m.channel.Load())
	channels := int(m.captureChs)
	if channels <= 0 {
		channels = 1
	}
	if ch < 0 || ch >= channels {
		ch = 0
	}

	mono := make([]float32, framecount)
	for i := 0; i < int(framecount); i++ {
		frameBase := i * channels * 4
		bits := binary.LittleEndian.Uint32(input[frameBase+ch*4:])
		mono[i] = math.Float32frombits(bits)
	}

	if m.resampler != nil {
		mono = m.resampler.Resample(mono)
	}

	if n := m.ring.push(mono); n < len(mono) && m.logger != nil {
		m.logger.Warn("monitor: intercom ring overflow, dropped samples", "dropped", len(mono)-n)
	}
}

// onOutput drains the pass ring into the playback block (mono, §4.8).
func (m *Intercom) onOutput(output []byte, _ []byte, framecount uint32) {
	for i := 0; i < int(framecount); i++ {
		var sample float32
		if s, ok := m.ring.pop(); ok {
			sample = s
		}
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(sample))
	}
}

// Close stops both streams and drops buffered samples (§4.8
// "Cancellation stops both streams and drops buffers").
func (m *Intercom) Close() {
	if m.in != nil {
		m.in.Stop()
		m.in.Uninit()
		m.in = nil
	}
	if m.out != nil {
		m.out.Stop()
		m.out.Uninit()
		m.out = nil
	}
	m.ring.clear()
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

func deviceIDFromHex(s string) malgo.DeviceID {
	var id malgo.DeviceID
	for i := 0; i < len(id) && i*2+1 < len(s); i++ {
		var b byte
		_, _ = fmt.Sscanf(s[i*2:i*2+2], "%02x", &b)
		id[i] = b
	}
	return id
}
