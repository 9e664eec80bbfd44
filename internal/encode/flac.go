package encode

import (
	"github.com/tphakala/flac"
	"github.com/tphakala/flac/frame"
	"github.com/tphakala/flac/meta"
)

// flacBlockFrames bounds how many frames (not samples) go into one FLAC
// frame. 4096 matches the reference encoder's default block size.
const flacBlockFrames = 4096

// writeFLAC encodes interleaved int32 samples as verbatim-predicted
// FLAC subframes: open StreamInfo once, WriteFrame per block, Close.
// Channel assignment generalizes to 1-8 independent channels (FLAC
// channel-assignment values 0-7) and the packed PCM16/24/32 subtypes
// §4.4 requires.
func writeFLAC(path string, samples []int32, seg Segment) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bitDepth := uint8(seg.Subtype.BitDepth())
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  flacBlockFrames,
		SampleRate:    seg.TargetRateHz,
		NChannels:     uint8(seg.Channels),
		BitsPerSample: bitDepth,
	}

	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		return err
	}
	defer enc.Close()

	totalFrames := len(samples) / seg.Channels
	for start := 0; start < totalFrames; start += flacBlockFrames {
		end := start + flacBlockFrames
		if end > totalFrames {
			end = totalFrames
		}
		blockFrames := end - start

		subframes := make([]*frame.Subframe, seg.Channels)
		for ch := range subframes {
			sub := &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				NSamples:  blockFrames,
				Samples:   make([]int32, blockFrames),
			}
			for i := 0; i < blockFrames; i++ {
				sub.Samples[i] = int32(narrowToBitDepth(samples[(start+i)*seg.Channels+ch], int(bitDepth)))
			}
			subframes[ch] = sub
		}

		hdr := frame.Header{
			HasFixedBlockSize: false,
			BlockSize:         uint16(blockFrames),
			SampleRate:        seg.TargetRateHz,
			Channels:          frame.Channels(seg.Channels - 1),
			BitsPerSample:     bitDepth,
		}
		fr := &frame.Frame{Header: hdr, Subframes: subframes}
		if err := enc.WriteFrame(fr); err != nil {
			return err
		}
	}
	return nil
}
