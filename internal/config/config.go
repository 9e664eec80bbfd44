// Package config loads and validates BMAR's configuration: the recorder
// identity, mode toggles, capture/monitor/period/event parameters,
// renderer tuning, and per-OS device preferences.
//
// The on-disk file format is BMAR's one external configuration surface;
// this package owns the Go-side Config struct, defaults, and validation,
// loaded from YAML with optional CLI flag overrides via yaml.v3 + pflag.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/elhorte/bmar/internal/bmarerr"
)

// FileFormat is a recording file container.
type FileFormat string

const (
	FormatWAV  FileFormat = "WAV"
	FormatFLAC FileFormat = "FLAC"
	FormatMP3  FileFormat = "MP3"
)

// TimeOfDay is an optional daily gating bound ("None" in config means
// continuous / ungated, per spec §6).
type TimeOfDay struct {
	Set                   bool
	Hour, Minute, Second int
}

// UnmarshalYAML accepts either a null node (ungated) or an "HH:MM:SS"
// string.
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" || value.Value == "" {
		*t = TimeOfDay{}
		return nil
	}
	var h, m, s int
	if _, err := fmt.Sscanf(value.Value, "%d:%d:%d", &h, &m, &s); err != nil {
		return fmt.Errorf("config: invalid time-of-day %q: %w", value.Value, err)
	}
	*t = TimeOfDay{Set: true, Hour: h, Minute: m, Second: s}
	return nil
}

// Within reports whether the local time-of-day of now lies in [start,
// end), handling a window that wraps past midnight. Unset start and end
// means continuous (always within), matching the "None = continuous"
// convention from the original BMAR_config.py.
func Within(now time.Time, start, end TimeOfDay) bool {
	if !start.Set && !end.Set {
		return true
	}
	cur := now.Hour()*3600 + now.Minute()*60 + now.Second()
	s := 0
	if start.Set {
		s = start.Hour*3600 + start.Minute*60 + start.Second
	}
	e := 24*3600 - 1
	if end.Set {
		e = end.Hour*3600 + end.Minute*60 + end.Second
	}
	if s <= e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

// Identity fields (§6).
type Identity struct {
	LocationID  string    `yaml:"location_id"`
	HiveID      string    `yaml:"hive_id"`
	MicLocation [4]string `yaml:"mic_location"`
	Mic         [4]bool   `yaml:"mic"`
}

// ActiveChannels returns the count and 0-based indices of active mics.
func (i Identity) ActiveChannels() (count int, indices []int) {
	for idx, on := range i.Mic {
		if on {
			count++
			indices = append(indices, idx)
		}
	}
	return
}

// Modes toggles which long-lived workers the Supervisor starts (§6).
type Modes struct {
	AudioMonitor      bool `yaml:"mode_audio_monitor"`
	Period            bool `yaml:"mode_period"`
	Event             bool `yaml:"mode_event"`
	FFTPeriodicRecord bool `yaml:"mode_fft_periodic_record"`
}

// Capture parameters for the primary high-rate stream (§3 CaptureConfig, §6).
type Capture struct {
	InSampleRateHz   uint32     `yaml:"primary_in_samplerate"`
	BitDepth         uint8      `yaml:"primary_bitdepth"`
	SaveSampleRateHz uint32     `yaml:"primary_save_samplerate"` // 0 = no downsample
	FileFormat       FileFormat `yaml:"primary_file_format"`
	Channels         int        `yaml:"sound_in_chs"`
	BufferSeconds    int        `yaml:"buffer_seconds"`
	HeadroomDB       float64    `yaml:"save_headroom_db"`
}

// Monitor (continuous/MP3 class) recording parameters.
type Monitor struct {
	SampleRateHz uint32     `yaml:"audio_monitor_samplerate"`
	BitDepth     uint8      `yaml:"audio_monitor_bitdepth"`
	Channels     int        `yaml:"audio_monitor_channels"` // 1 or 2
	Quality      int        `yaml:"audio_monitor_quality"`  // 0-9 VBR or 64-320 CBR
	Format       FileFormat `yaml:"audio_monitor_format"`
	Record       bool       `yaml:"audio_monitor_record"`
	DurationSec  int        `yaml:"audio_monitor_record_seconds"`
	IntervalSec  int        `yaml:"audio_monitor_interval"`
	Start        TimeOfDay  `yaml:"audio_monitor_start"`
	End          TimeOfDay  `yaml:"audio_monitor_end"`
}

// Period recording parameters.
type Period struct {
	Record               bool      `yaml:"period_record"`
	DurationSec          int       `yaml:"period_interval_duration_seconds"`
	IntervalSec          int       `yaml:"period_interval"`
	Start                TimeOfDay `yaml:"period_start"`
	End                  TimeOfDay `yaml:"period_end"`
	SpectrogramMaxSecond int       `yaml:"period_spectrogram"`
}

// Event recording parameters.
type Event struct {
	Start          TimeOfDay `yaml:"event_start"`
	End            TimeOfDay `yaml:"event_end"`
	SaveBeforeSec  int       `yaml:"save_before_event"`
	SaveAfterSec   int       `yaml:"save_after_event"`
	ThresholdAbs   int32     `yaml:"event_threshold"`
	MonitorChannel string    `yaml:"monitor_ch"` // channel index (1-based) or "all"
}

// Renderer tuning parameters (§4.7, §6).
type Renderer struct {
	TraceDurationSec    float64 `yaml:"trace_duration"`
	OscopeGainDB        float64 `yaml:"oscope_gain_db"`
	FFTDurationSec      float64 `yaml:"fft_duration"`
	FFTGainDB           float64 `yaml:"fft_gain"`
	FFTBucketHz         float64 `yaml:"fft_bw"`
	FFTIntervalMinutes  float64 `yaml:"fft_interval"`
	SpectrogramDuration float64 `yaml:"spectrogram_duration"`
	SpectrogramGainDB   float64 `yaml:"spectrogram_gain"`
	SpectrogramDBMin    float64 `yaml:"spectrogram_db_min"`
	SpectrogramDBMax    float64 `yaml:"spectrogram_db_max"`
	FFTFreqMinHz        float64 `yaml:"fft_freq_min_hz"`
	FFTFreqMaxHz        float64 `yaml:"fft_freq_max_hz"`
}

// Device preferences, one set of per-OS defaults (§4.2, §6).
type Device struct {
	MakeName             string   `yaml:"make_name"`
	ModelName            []string `yaml:"model_name"`
	DeviceName           string   `yaml:"device_name"`
	APIName              string   `yaml:"api_name"`
	HostAPIIndex         int      `yaml:"hostapi_index"`
	DeviceID             string   `yaml:"device_id"`
	SoundOutIDDefault    int      `yaml:"sound_out_id_default"`
	SoundOutChsDefault   int      `yaml:"sound_out_chs_default"`
	SoundOutSRDefault    uint32   `yaml:"sound_out_sr_default"`
	IntercomSampleRateHz uint32   `yaml:"intercom_samplerate"`
}

// Config is the fully loaded, validated BMAR configuration.
type Config struct {
	Identity Identity `yaml:"identity"`
	Modes    Modes    `yaml:"modes"`
	Capture  Capture  `yaml:"capture"`
	Monitor  Monitor  `yaml:"monitor"`
	Period   Period   `yaml:"period"`
	Event    Event    `yaml:"event"`
	Renderer Renderer `yaml:"renderer"`
	Device   Device   `yaml:"device"`

	DataRoot string `yaml:"data_root"`
}

// Default returns a Config populated with the same defaults as the
// original BMAR_config.py draft (original_source/beehub/python/src),
// adapted to Go zero-values where the Python used None/False.
func Default() Config {
	return Config{
		Identity: Identity{
			LocationID:  "default-location",
			HiveID:      "default-hive",
			MicLocation: [4]string{"1: upper--front", "2: upper--back", "3: lower--front", "4: lower--back"},
			Mic:         [4]bool{true, true, false, false},
		},
		Modes: Modes{AudioMonitor: true, Period: true, Event: false, FFTPeriodicRecord: false},
		Capture: Capture{
			InSampleRateHz: 192000, BitDepth: 16, SaveSampleRateHz: 0,
			FileFormat: FormatFLAC, Channels: 2, BufferSeconds: 300,
		},
		Monitor: Monitor{
			SampleRateHz: 48000, BitDepth: 16, Channels: 2, Quality: 4,
			Format: FormatMP3, Record: true, DurationSec: 1800, IntervalSec: 0,
		},
		Period: Period{Record: true, DurationSec: 900, IntervalSec: 0, SpectrogramMaxSecond: 60},
		Event:  Event{SaveBeforeSec: 30, SaveAfterSec: 30, ThresholdAbs: 20000, MonitorChannel: "all"},
		Renderer: Renderer{
			TraceDurationSec: 10, FFTDurationSec: 10, FFTBucketHz: 1000,
			FFTIntervalMinutes: 0, SpectrogramDuration: 60, SpectrogramDBMin: -100, SpectrogramDBMax: 0,
		},
		Device: Device{APIName: defaultAPIName(), SoundOutChsDefault: 1, SoundOutSRDefault: 48000},
	}
}

func defaultAPIName() string {
	switch runtime.GOOS {
	case "windows":
		return "WASAPI"
	case "darwin":
		return "CoreAudio"
	default:
		return "ALSA"
	}
}

// Load reads a YAML config file over the defaults, then applies any
// pflag CLI overrides (`--data-root`, `--location-id`, `--hive-id`), and
// validates the result. An empty path skips the file read and returns
// Default() with overrides and validation still applied.
func Load(path string, args []string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	fs := pflag.NewFlagSet("bmar", pflag.ContinueOnError)
	dataRoot := fs.String("data-root", cfg.DataRoot, "root directory for dated output trees")
	locationID := fs.String("location-id", cfg.Identity.LocationID, "deployment location identifier")
	hiveID := fs.String("hive-id", cfg.Identity.HiveID, "hive/unit identifier")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parsing flags: %w", err)
	}
	cfg.DataRoot = *dataRoot
	cfg.Identity.LocationID = *locationID
	cfg.Identity.HiveID = *hiveID

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration-time invariants that are fatal
// (§7): MP3 rate legality (IV4), legal bit depths, and channel counts.
func Validate(cfg Config) error {
	if cfg.Capture.BitDepth != 16 && cfg.Capture.BitDepth != 24 && cfg.Capture.BitDepth != 32 {
		return fmt.Errorf("config: primary bit depth must be 16, 24, or 32, got %d", cfg.Capture.BitDepth)
	}
	if cfg.Capture.Channels < 1 || cfg.Capture.Channels > 8 {
		return fmt.Errorf("config: sound_in_chs must be in 1..8, got %d", cfg.Capture.Channels)
	}
	if err := validateMP3Rate(cfg.Monitor.Format, cfg.Monitor.SampleRateHz); err != nil {
		return err
	}
	targetRate := cfg.Capture.SaveSampleRateHz
	if targetRate == 0 {
		targetRate = cfg.Capture.InSampleRateHz
	}
	if err := validateMP3Rate(cfg.Capture.FileFormat, targetRate); err != nil {
		return err
	}
	return nil
}

// validateMP3Rate enforces IV4: MP3 segments require 44100 or 48000 Hz.
func validateMP3Rate(format FileFormat, rateHz uint32) error {
	if format != FormatMP3 {
		return nil
	}
	if rateHz != 44100 && rateHz != 48000 {
		return &bmarerr.MP3RateUnsupported{TargetRateHz: rateHz}
	}
	return nil
}
