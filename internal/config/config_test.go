package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidateRejectsIllegalMP3Rate(t *testing.T) {
	cfg := Default()
	cfg.Monitor.Format = FormatMP3
	cfg.Monitor.SampleRateHz = 22050

	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateRejectsBadBitDepth(t *testing.T) {
	cfg := Default()
	cfg.Capture.BitDepth = 20
	assert.Error(t, Validate(cfg))
}

func TestWithinContinuousWhenUnset(t *testing.T) {
	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	assert.True(t, Within(now, TimeOfDay{}, TimeOfDay{}))
}

func TestWithinOrdinaryWindow(t *testing.T) {
	start := TimeOfDay{Set: true, Hour: 8}
	end := TimeOfDay{Set: true, Hour: 20}

	inside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)

	assert.True(t, Within(inside, start, end))
	assert.False(t, Within(outside, start, end))
}

func TestWithinWrapsPastMidnight(t *testing.T) {
	start := TimeOfDay{Set: true, Hour: 22}
	end := TimeOfDay{Set: true, Hour: 4}

	lateNight := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Within(lateNight, start, end))
	assert.True(t, Within(earlyMorning, start, end))
	assert.False(t, Within(midday, start, end))
}
