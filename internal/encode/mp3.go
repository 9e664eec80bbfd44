package encode

import (
	mp3 "github.com/braheezy/shine-mp3/pkg/mp3"
)

// bitrateForQuality resolves the AUDIO_MONITOR_QUALITY overload (§12):
// 0-9 is treated as a VBR-quality dial and mapped onto a representative
// CBR bitrate (shine is a fixed-bitrate encoder, so BMAR's VBR knob
// degrades gracefully to CBR rather than rejecting the setting), while
// 64-320 is used directly as a CBR kbps target.
func bitrateForQuality(quality int) int {
	if quality >= 64 {
		return quality
	}
	// 0 (best) -> 320 kbps, 9 (worst) -> 96 kbps.
	const best, worst = 320, 96
	return best - quality*(best-worst)/9
}

// writeMP3 encodes interleaved PCM to MP3 via shine-mp3: construct
// mp3.NewEncoder, Write raw PCM. shine-mp3's Write has a documented mono
// bug (always advances by samples_per_pass*2), so mono segments are
// duplicated to L=R stereo before encoding to work around it.
func writeMP3(path string, samples []int32, seg Segment) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	channels := seg.Channels
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(s >> 16)
	}

	if channels == 1 {
		stereo := make([]int16, len(pcm)*2)
		for i, s := range pcm {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
		pcm = stereo
		channels = 2
	}

	// bitrateForQuality resolves audio_monitor_quality to a target kbps
	// value, but shine-mp3's Encoder takes only (sampleRate, channels) —
	// it has no post-construction bitrate knob, so the resolved value has
	// no encoder API to flow into. This is a known, documented limitation
	// (see DESIGN.md) rather than a silent no-op: audio_monitor_quality
	// is still accepted and validated, but it does not change MP3 output.
	_ = bitrateForQuality(seg.Quality)

	encoder := mp3.NewEncoder(int(seg.TargetRateHz), channels)
	return encoder.Write(f, pcm)
}
