package purge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestValidateIDs(t *testing.T) {
	assert.NoError(t, ValidateIDs([]string{"a", "b"}))
	assert.ErrorIs(t, ValidateIDs(nil), ErrValidation)
	assert.ErrorIs(t, ValidateIDs([]string{" "}), ErrValidation)

	over := make([]string, 1001)
	for i := range over {
		over[i] = "id"
	}
	assert.ErrorIs(t, ValidateIDs(over), ErrValidation)
	assert.NoError(t, ValidateIDs(over[:1000]))
}

func TestParseFilter_Lookback(t *testing.T) {
	cases := []struct {
		lookback string
		wantMin  time.Time
	}{
		{"10m", now.Add(-10 * time.Minute)},
		{"2h", now.Add(-2 * time.Hour)},
		{"5d", now.AddDate(0, 0, -5)},
		{"2w", now.AddDate(0, 0, -14)},
		{"3months", now.AddDate(0, -3, 0)},
	}

	for _, tc := range cases {
		f, err := ParseFilter(tc.lookback, "", "", "", now)
		require.NoError(t, err, tc.lookback)
		assert.Equal(t, tc.wantMin.UnixMilli(), f.MinTimestampMS, tc.lookback)
		assert.Equal(t, now.UnixMilli(), f.MaxTimestampMS, tc.lookback)
	}
}

func TestParseFilter_TimeRangeDates(t *testing.T) {
	f, err := ParseFilter("", "2024-01-01 to 2024-01-31", "production", "error", now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), f.MinTimestampMS)
	// A date-only end bound includes the whole day.
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999000000, time.UTC).UnixMilli(), f.MaxTimestampMS)
	assert.Equal(t, "production", f.Environment)
	assert.Equal(t, "error", f.Level)
}

func TestParseFilter_TimeRangeWithClock(t *testing.T) {
	f, err := ParseFilter("", "2024-01-01-08:30:00 to 2024-01-01-17:00:00", "", "", now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC).UnixMilli(), f.MinTimestampMS)
	assert.Equal(t, time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC).UnixMilli(), f.MaxTimestampMS)
}

func TestParseFilter_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		lookback string
		timeRng  string
	}{
		{"both selectors", "5d", "2024-01-01 to 2024-01-31"},
		{"neither selector", "", ""},
		{"garbage lookback", "soon", ""},
		{"unknown unit", "5fortnights", ""},
		{"zero amount", "0d", ""},
		{"range missing separator", "", "2024-01-01 2024-01-31"},
		{"range bad date", "", "2024-13-99 to 2024-01-31"},
		{"range inverted", "", "2024-02-01 to 2024-01-01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFilter(tc.lookback, tc.timeRng, "", "", now)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
