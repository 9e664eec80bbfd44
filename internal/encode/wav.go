package encode

import (
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes interleaved int32 samples at the segment's subtype
// width via go-audio/wav.NewEncoder + audio.IntBuffer, generalized from
// fixed mono/16-bit to BMAR's configurable channel count and PCM16/24/32
// subtype (§4.4).
func writeWAV(path string, samples []int32, seg Segment) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bitDepth := int(seg.Subtype.BitDepth())
	buf := &audio.IntBuffer{
		Data: make([]int, len(samples)),
		Format: &audio.Format{
			SampleRate:  int(seg.TargetRateHz),
			NumChannels: seg.Channels,
		},
		SourceBitDepth: bitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = narrowToBitDepth(s, bitDepth)
	}

	enc := wav.NewEncoder(f, int(seg.TargetRateHz), bitDepth, seg.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// narrowToBitDepth converts a full-range int32 sample (as produced by
// capture/dsp, §4.3's numeric policy) down to the value range
// go-audio's encoder expects for the target subtype.
func narrowToBitDepth(s int32, bitDepth int) int {
	switch bitDepth {
	case 24:
		return int(s >> 8)
	case 32:
		return int(s)
	default:
		return int(s >> 16)
	}
}
