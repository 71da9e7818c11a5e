// Package recurrence computes when a job plan runs next and when its
// schedule ends. Everything here is pure; the caller supplies the clock.
package recurrence

import (
	"strings"

	"github.com/chorus/jobs/errors"
)

// IntervalUnit is the cadence of a recurring plan.
type IntervalUnit string

const (
	OnDemand IntervalUnit = "on_demand"
	Hours    IntervalUnit = "hours"
	Days     IntervalUnit = "days"
	Weeks    IntervalUnit = "weeks"
	Months   IntervalUnit = "months"
)

var intervalUnits = []IntervalUnit{OnDemand, Hours, Days, Weeks, Months}

// IntervalUnits returns every supported unit, on_demand first.
func IntervalUnits() []IntervalUnit {
	out := make([]IntervalUnit, len(intervalUnits))
	copy(out, intervalUnits)
	return out
}

// ParseIntervalUnit accepts a unit name in any case.
func ParseIntervalUnit(s string) (IntervalUnit, error) {
	u := IntervalUnit(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range intervalUnits {
		if u == known {
			return u, nil
		}
	}
	return "", errors.NewValidationError("interval_unit", errors.CodeInvalidIntervalUnit)
}

// Recurring reports whether the unit schedules runs automatically.
func (u IntervalUnit) Recurring() bool {
	return u != OnDemand
}

// NormalizeInterval snaps on_demand plans to a zero value. Recurring units
// pass through untouched so that validation still sees what the caller sent.
func NormalizeInterval(unit IntervalUnit, value int) (IntervalUnit, int) {
	if unit == OnDemand {
		return unit, 0
	}
	return unit, value
}

// Meridiem is the am/pm half of a 12-hour clock reading.
type Meridiem string

const (
	AM Meridiem = "am"
	PM Meridiem = "pm"
)

// ParseMeridiem accepts "am"/"pm" in any case.
func ParseMeridiem(s string) (Meridiem, bool) {
	switch Meridiem(strings.ToLower(strings.TrimSpace(s))) {
	case AM:
		return AM, true
	case PM:
		return PM, true
	}
	return "", false
}

// hour24 converts a 1..12 clock hour to 0..23.
func hour24(hour int, m Meridiem) (int, bool) {
	if hour < 1 || hour > 12 {
		return 0, false
	}
	switch m {
	case AM:
		if hour == 12 {
			return 0, true
		}
		return hour, true
	case PM:
		if hour == 12 {
			return 12, true
		}
		return hour + 12, true
	}
	return 0, false
}
