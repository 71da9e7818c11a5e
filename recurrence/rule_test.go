package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/errors"
)

func samoaAnchor() Anchor {
	return Anchor{Year: 3013, Month: 7, Day: 9, Hour: 1, Minute: 5, Meridiem: AM, TimeZone: "American Samoa"}
}

func TestComputeNextRun_AmericanSamoa(t *testing.T) {
	next, err := ComputeNextRun(Weeks, 2, samoaAnchor())
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.Equal(t, time.Date(3013, 7, 9, 12, 5, 0, 0, time.UTC), *next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestComputeNextRun_Idempotent(t *testing.T) {
	a, err := ComputeNextRun(Weeks, 2, samoaAnchor())
	require.NoError(t, err)
	b, err := ComputeNextRun(Weeks, 2, samoaAnchor())
	require.NoError(t, err)
	assert.True(t, a.Equal(*b))
}

func TestComputeNextRun_OnDemand(t *testing.T) {
	next, err := ComputeNextRun(OnDemand, 5, Anchor{})
	require.NoError(t, err)
	assert.Nil(t, next)

	unit, value := NormalizeInterval(OnDemand, 5)
	assert.Equal(t, OnDemand, unit)
	assert.Equal(t, 0, value)

	unit, value = NormalizeInterval(Days, 3)
	assert.Equal(t, Days, unit)
	assert.Equal(t, 3, value)
}

func TestComputeNextRun_Meridiem(t *testing.T) {
	tests := []struct {
		name     string
		hour     int
		meridiem Meridiem
		want     int
	}{
		{"midnight", 12, AM, 0},
		{"morning", 9, AM, 9},
		{"noon", 12, PM, 12},
		{"afternoon", 3, PM, 15},
		{"last hour", 11, PM, 23},
		{"upper case", 4, Meridiem("PM"), 16},
		{"padded", 12, Meridiem(" am "), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := Anchor{Year: 2024, Month: 3, Day: 1, Hour: tt.hour, Minute: 30, Meridiem: tt.meridiem, TimeZone: "UTC"}
			next, err := ComputeNextRun(Days, 1, anchor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Hour())
			assert.Equal(t, 30, next.Minute())
		})
	}
}

func TestComputeNextRun_ValidationErrors(t *testing.T) {
	base := Anchor{Year: 2024, Month: 2, Day: 10, Hour: 1, Minute: 0, Meridiem: AM, TimeZone: "UTC"}

	tests := []struct {
		name  string
		value int
		edit  func(*Anchor)
		field string
		code  string
	}{
		{"zero value", 0, func(a *Anchor) {}, "interval_value", errors.CodeInvalidIntervalValue},
		{"negative value", -2, func(a *Anchor) {}, "interval_value", errors.CodeInvalidIntervalValue},
		{"hour zero", 1, func(a *Anchor) { a.Hour = 0 }, "next_run", errors.CodeInvalidDate},
		{"hour thirteen", 1, func(a *Anchor) { a.Hour = 13 }, "next_run", errors.CodeInvalidDate},
		{"missing meridiem", 1, func(a *Anchor) { a.Meridiem = "" }, "next_run", errors.CodeInvalidDate},
		{"minute overflow", 1, func(a *Anchor) { a.Minute = 60 }, "next_run", errors.CodeInvalidDate},
		{"february thirtieth", 1, func(a *Anchor) { a.Day = 30 }, "next_run", errors.CodeInvalidDate},
		{"month thirteen", 1, func(a *Anchor) { a.Month = 13 }, "next_run", errors.CodeInvalidDate},
		{"unknown zone", 1, func(a *Anchor) { a.TimeZone = "Atlantis" }, "time_zone", errors.CodeInvalidTimezone},
		{"empty zone", 1, func(a *Anchor) { a.TimeZone = "" }, "time_zone", errors.CodeInvalidTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := base
			tt.edit(&anchor)
			next, err := ComputeNextRun(Weeks, tt.value, anchor)
			require.Error(t, err)
			assert.Nil(t, next)
			assert.True(t, errors.HasFieldCode(err, tt.field, tt.code), "got %v", err)
		})
	}
}

func TestComputeNextRun_LeapDay(t *testing.T) {
	anchor := Anchor{Year: 2024, Month: 2, Day: 29, Hour: 6, Minute: 0, Meridiem: PM, TimeZone: "Pacific/Auckland"}
	next, err := ComputeNextRun(Months, 1, anchor)
	require.NoError(t, err)
	// Auckland is UTC+13 in February
	assert.Equal(t, time.Date(2024, 2, 29, 5, 0, 0, 0, time.UTC), *next)
}

func TestComputeEndRun(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		end, err := ComputeEndRun(nil, "UTC")
		require.NoError(t, err)
		assert.Nil(t, end)
	})

	t.Run("canonical date", func(t *testing.T) {
		end, err := ComputeEndRun(&EndDateFields{Year: 3013, Month: 8, Day: 1}, "American Samoa")
		require.NoError(t, err)
		require.NotNil(t, end)
		assert.Equal(t, "3013-08-01", end.String())
	})

	t.Run("invalid date", func(t *testing.T) {
		_, err := ComputeEndRun(&EndDateFields{Year: 2023, Month: 2, Day: 29}, "UTC")
		assert.True(t, errors.HasFieldCode(err, "end_run", errors.CodeInvalidDate))
	})

	t.Run("invalid zone", func(t *testing.T) {
		_, err := ComputeEndRun(&EndDateFields{Year: 2023, Month: 2, Day: 1}, "Nowhere/Special")
		assert.True(t, errors.HasFieldCode(err, "time_zone", errors.CodeInvalidTimezone))
	})
}

func TestAdvance(t *testing.T) {
	ny, err := ResolveZone("Eastern Time (US & Canada)")
	require.NoError(t, err)

	// 2024-03-09 09:00 EST, the day before DST starts
	start := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

	t.Run("hours are absolute", func(t *testing.T) {
		next, err := Advance(start, Hours, 24, ny)
		require.NoError(t, err)
		assert.Equal(t, start.Add(24*time.Hour), next)
	})

	t.Run("days keep wall clock across DST", func(t *testing.T) {
		next, err := Advance(start, Days, 1, ny)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), next)
		assert.Equal(t, 9, next.In(ny.Location).Hour())
	})

	t.Run("weeks", func(t *testing.T) {
		next, err := Advance(start, Weeks, 2, ny)
		require.NoError(t, err)
		assert.Equal(t, 23, next.In(ny.Location).Day())
		assert.Equal(t, 9, next.In(ny.Location).Hour())
	})

	t.Run("months clamp to month end", func(t *testing.T) {
		utc, err := ResolveZone("UTC")
		require.NoError(t, err)
		jan31 := time.Date(2023, 1, 31, 8, 0, 0, 0, time.UTC)
		next, err := Advance(jan31, Months, 1, utc)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2023, 2, 28, 8, 0, 0, 0, time.UTC), next)
	})

	t.Run("on demand cannot advance", func(t *testing.T) {
		_, err := Advance(start, OnDemand, 1, ny)
		assert.Error(t, err)
	})

	t.Run("zero value rejected", func(t *testing.T) {
		_, err := Advance(start, Days, 0, ny)
		assert.True(t, errors.HasFieldCode(err, "interval_value", errors.CodeInvalidIntervalValue))
	})
}

func TestAdvancePast(t *testing.T) {
	utc, err := ResolveZone("UTC")
	require.NoError(t, err)

	next := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 5, 30, 0, 0, time.UTC)

	got, err := AdvancePast(next, now, Hours, 2, utc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), got)

	// Already in the future: unchanged
	future := now.Add(time.Hour)
	got, err = AdvancePast(future, now, Hours, 2, utc)
	require.NoError(t, err)
	assert.Equal(t, future, got)
}

func TestExpired(t *testing.T) {
	samoa, err := ResolveZone("American Samoa")
	require.NoError(t, err)
	end := Date{Year: 2024, Month: time.July, Day: 9}

	// 2024-07-10 05:00 UTC is still July 9 in Samoa (UTC-11)
	assert.False(t, Expired(time.Date(2024, 7, 10, 5, 0, 0, 0, time.UTC), &end, samoa))
	// 2024-07-10 11:00 UTC is July 10 00:00 in Samoa
	assert.True(t, Expired(time.Date(2024, 7, 10, 11, 0, 0, 0, time.UTC), &end, samoa))
	assert.False(t, Expired(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), nil, samoa))
}

func TestAnchorAt(t *testing.T) {
	samoa, err := ResolveZone("American Samoa")
	require.NoError(t, err)

	anchor := AnchorAt(time.Date(3013, 7, 9, 12, 5, 0, 0, time.UTC), samoa)
	assert.Equal(t, samoaAnchor(), anchor)

	next, err := ComputeNextRun(Weeks, 2, anchor)
	require.NoError(t, err)
	assert.Equal(t, time.Date(3013, 7, 9, 12, 5, 0, 0, time.UTC), *next)
}
