// Package encode writes ring snapshots out as WAV, FLAC, or MP3 segment
// files and owns the filename contract shared with internal/scheduler
// (§4.4, IV6). It never creates directories — that is the Supervisor's
// dated-directory job (§4.4, §4.9).
package encode

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/elhorte/bmar/internal/bmarerr"
	"github.com/elhorte/bmar/internal/config"
)

// Subtype is the PCM sample width a segment is written at.
type Subtype int

const (
	PCM16 Subtype = iota
	PCM24
	PCM32
)

func SubtypeForBitDepth(bitDepth uint8) Subtype {
	switch bitDepth {
	case 24:
		return PCM24
	case 32:
		return PCM32
	default:
		return PCM16
	}
}

func (s Subtype) BitDepth() uint8 {
	switch s {
	case PCM24:
		return 24
	case PCM32:
		return 32
	default:
		return 16
	}
}

// Segment describes one file the scheduler asks the Encoder to write
// (spec §3 Segment).
type Segment struct {
	StartFrame, EndFrame             uint64
	Channels                         int
	SourceSampleRateHz, TargetRateHz uint32
	Format                           config.FileFormat
	Subtype                          Subtype
	ThreadTag, LocationID, HiveID    string
	Quality                          int // MP3 only: 0-9 VBR, 64-320 CBR (§12)
	Timestamp                        time.Time
}

// extFor maps a container format to its filename extension.
func extFor(f config.FileFormat) string {
	switch f {
	case config.FormatFLAC:
		return "flac"
	case config.FormatMP3:
		return "mp3"
	default:
		return "wav"
	}
}

// BuildFilename implements the filename contract in §4.4:
// YYYYMMDD-HHMMSS_<rate_hz>_<bit_depth>_<thread_tag>_<location_id>_<hive_id>.<ext>
func BuildFilename(seg Segment) string {
	return fmt.Sprintf("%s_%d_%d_%s_%s_%s.%s",
		seg.Timestamp.Format("20060102-150405"),
		seg.TargetRateHz,
		seg.Subtype.BitDepth(),
		seg.ThreadTag,
		seg.LocationID,
		seg.HiveID,
		extFor(seg.Format),
	)
}

// ParsedFilename holds the fields recovered by ParseFilename, used by
// IV6's roundtrip check.
type ParsedFilename struct {
	Timestamp                     time.Time
	RateHz                        uint32
	BitDepth                      uint8
	ThreadTag, LocationID, HiveID string
	Ext                           string
}

// ParseFilename inverts BuildFilename. It is deliberately strict: any
// deviation from the six-field contract is an error rather than a
// best-effort guess, since a silently-misparsed filename would corrupt
// directory routing (monitor-class vs. primary) downstream.
func ParseFilename(name string) (ParsedFilename, error) {
	var p ParsedFilename
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext == "" {
		return p, fmt.Errorf("encode: %q has no extension", name)
	}
	p.Ext = strings.TrimPrefix(ext, ".")
	stem := strings.TrimSuffix(base, ext)

	fields := strings.SplitN(stem, "_", 6)
	if len(fields) != 6 {
		return p, fmt.Errorf("encode: %q does not have 6 underscore-delimited fields", name)
	}

	ts, err := time.Parse("20060102-150405", fields[0])
	if err != nil {
		return p, fmt.Errorf("encode: %q: bad timestamp: %w", name, err)
	}
	p.Timestamp = ts

	rate, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return p, fmt.Errorf("encode: %q: bad rate_hz: %w", name, err)
	}
	p.RateHz = uint32(rate)

	depth, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return p, fmt.Errorf("encode: %q: bad bit_depth: %w", name, err)
	}
	p.BitDepth = uint8(depth)

	p.ThreadTag = fields[3]
	p.LocationID = fields[4]
	p.HiveID = fields[5]
	return p, nil
}

// monitorThreadTags names thread_tag values routed to the monitor
// directory rather than primary_raw (§4.4 "Directory routed by
// thread_tag: monitor-class -> monitor_dir").
var monitorThreadTags = map[string]bool{
	"monitor": true,
	"mon":     true,
}

// IsMonitorClass reports whether a thread_tag routes to monitor_dir.
func IsMonitorClass(threadTag string) bool {
	return monitorThreadTags[strings.ToLower(threadTag)]
}

// Write dispatches a segment to the format-specific writer. samples is
// channel-major interleaved PCM at seg.Channels channels and
// seg.TargetRateHz (the caller has already decimated if needed, §4.3
// step 6). dir is the already-resolved DatedPaths directory (§3
// "Workers resolve paths at segment-close time").
func Write(dir string, seg Segment, samples []int32) (string, error) {
	if seg.Format == config.FormatMP3 {
		if seg.TargetRateHz != 44100 && seg.TargetRateHz != 48000 {
			return "", &bmarerr.MP3RateUnsupported{TargetRateHz: seg.TargetRateHz}
		}
	}

	path := filepath.Join(dir, BuildFilename(seg))

	var err error
	switch seg.Format {
	case config.FormatFLAC:
		err = writeFLAC(path, samples, seg)
	case config.FormatMP3:
		err = writeMP3(path, samples, seg)
	default:
		err = writeWAV(path, samples, seg)
	}
	if err != nil {
		return "", &bmarerr.EncoderFailed{Path: path, Err: err}
	}
	return path, nil
}

func createFile(path string) (*os.File, error) {
	return os.Create(path)
}
