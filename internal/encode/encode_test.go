package encode

import (
	"testing"
	"time"

	"github.com/elhorte/bmar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegment() Segment {
	return Segment{
		Channels:      2,
		TargetRateHz:  48000,
		Format:        config.FormatFLAC,
		Subtype:       PCM16,
		ThreadTag:     "period",
		LocationID:    "apiary1",
		HiveID:        "hiveA",
		Timestamp:     time.Date(2026, 3, 4, 13, 5, 6, 0, time.UTC),
	}
}

func TestBuildFilenameMatchesContract(t *testing.T) {
	name := BuildFilename(testSegment())
	assert.Equal(t, "20260304-130506_48000_16_period_apiary1_hiveA.flac", name)
}

func TestParseFilenameRoundtrips(t *testing.T) {
	seg := testSegment()
	name := BuildFilename(seg)

	parsed, err := ParseFilename(name)
	require.NoError(t, err)

	assert.True(t, seg.Timestamp.Equal(parsed.Timestamp))
	assert.Equal(t, seg.TargetRateHz, parsed.RateHz)
	assert.Equal(t, seg.Subtype.BitDepth(), parsed.BitDepth)
	assert.Equal(t, seg.ThreadTag, parsed.ThreadTag)
	assert.Equal(t, seg.LocationID, parsed.LocationID)
	assert.Equal(t, seg.HiveID, parsed.HiveID)
	assert.Equal(t, "flac", parsed.Ext)
}

func TestParseFilenameRejectsMalformed(t *testing.T) {
	_, err := ParseFilename("not_enough_fields.wav")
	assert.Error(t, err)

	_, err = ParseFilename("noextension")
	assert.Error(t, err)
}

func TestIsMonitorClass(t *testing.T) {
	assert.True(t, IsMonitorClass("monitor"))
	assert.True(t, IsMonitorClass("MON"))
	assert.False(t, IsMonitorClass("period"))
	assert.False(t, IsMonitorClass("event"))
}

func TestWriteRejectsIllegalMP3Rate(t *testing.T) {
	seg := testSegment()
	seg.Format = config.FormatMP3
	seg.TargetRateHz = 22050

	_, err := Write(t.TempDir(), seg, []int32{0, 0})
	require.Error(t, err)
}

func TestBitrateForQualityDispatchesByRange(t *testing.T) {
	assert.Equal(t, 128, bitrateForQuality(128))
	assert.Equal(t, 320, bitrateForQuality(0))
	assert.Less(t, bitrateForQuality(9), bitrateForQuality(0))
}

func TestNarrowToBitDepth(t *testing.T) {
	const maxI32 = int32(1<<31 - 1)
	assert.Equal(t, (1<<23)-1, narrowToBitDepth(maxI32, 24))
	assert.Equal(t, int((1<<31)-1), narrowToBitDepth(maxI32, 32))
	assert.Equal(t, (1<<15)-1, narrowToBitDepth(maxI32, 16))
}

func TestSubtypeForBitDepth(t *testing.T) {
	assert.Equal(t, PCM16, SubtypeForBitDepth(16))
	assert.Equal(t, PCM24, SubtypeForBitDepth(24))
	assert.Equal(t, PCM32, SubtypeForBitDepth(32))
}
