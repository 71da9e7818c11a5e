package recurrence

import (
	"time"

	"github.com/chorus/jobs/errors"
)

// Anchor holds the start date fields as a user enters them: a 12-hour
// clock reading in a named zone.
type Anchor struct {
	Year     int      `json:"year" yaml:"year"`
	Month    int      `json:"month" yaml:"month"`
	Day      int      `json:"day" yaml:"day"`
	Hour     int      `json:"hour" yaml:"hour"`
	Minute   int      `json:"minute" yaml:"minute"`
	Meridiem Meridiem `json:"meridiem" yaml:"meridiem"`
	TimeZone string   `json:"time_zone" yaml:"time_zone"`
}

// EndDateFields is the optional last day of a schedule.
type EndDateFields struct {
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
	Day   int `json:"day" yaml:"day"`
}

// AnchorAt renders t as the Anchor a user would have typed in zone name.
func AnchorAt(t time.Time, zone Zone) Anchor {
	local := t.In(zone.Location)
	h := local.Hour()
	m := AM
	if h >= 12 {
		m = PM
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return Anchor{
		Year:     local.Year(),
		Month:    int(local.Month()),
		Day:      local.Day(),
		Hour:     h,
		Minute:   local.Minute(),
		Meridiem: m,
		TimeZone: zone.Name,
	}
}

// ComputeNextRun returns the first run of a recurring plan: the anchor's
// wall clock reading in its zone, as UTC at minute precision. On-demand
// plans have no next run.
func ComputeNextRun(unit IntervalUnit, value int, anchor Anchor) (*time.Time, error) {
	if !unit.Recurring() {
		return nil, nil
	}

	verr := &errors.ValidationError{}
	if value < 1 {
		verr.Add("interval_value", errors.CodeInvalidIntervalValue)
	}

	meridiem, _ := ParseMeridiem(string(anchor.Meridiem))
	h, ok := hour24(anchor.Hour, meridiem)
	if !ok || anchor.Minute < 0 || anchor.Minute > 59 {
		verr.Add("next_run", errors.CodeInvalidDate)
	}
	date, err := NewDate(anchor.Year, anchor.Month, anchor.Day)
	if err != nil && !verr.Has("next_run", errors.CodeInvalidDate) {
		verr.Add("next_run", errors.CodeInvalidDate)
	}

	zone, zerr := ResolveZone(anchor.TimeZone)
	if zerr != nil {
		verr.Add("time_zone", errors.CodeInvalidTimezone)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	local := time.Date(date.Year, date.Month, date.Day, h, anchor.Minute, 0, 0, zone.Location)
	next := local.UTC().Truncate(time.Minute)
	return &next, nil
}

// ComputeEndRun validates the optional end date. The zone is checked so
// that a bad zone is reported alongside a bad date, but the date itself
// carries no zone; Expired applies it when comparing.
func ComputeEndRun(fields *EndDateFields, timeZone string) (*Date, error) {
	if fields == nil {
		return nil, nil
	}

	verr := &errors.ValidationError{}
	date, err := NewDate(fields.Year, fields.Month, fields.Day)
	if err != nil {
		verr.Add("end_run", errors.CodeInvalidDate)
	}
	if !ValidZone(timeZone) {
		verr.Add("time_zone", errors.CodeInvalidTimezone)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &date, nil
}

// Advance returns the run after next. Hours are absolute durations;
// days, weeks and months step the calendar in the plan's zone and keep
// the local wall clock across DST changes.
func Advance(next time.Time, unit IntervalUnit, value int, zone Zone) (time.Time, error) {
	if value < 1 {
		return time.Time{}, errors.NewValidationError("interval_value", errors.CodeInvalidIntervalValue)
	}
	switch unit {
	case Hours:
		return next.Add(time.Duration(value) * time.Hour).UTC(), nil
	case Days:
		return next.In(zone.Location).AddDate(0, 0, value).UTC(), nil
	case Weeks:
		return next.In(zone.Location).AddDate(0, 0, 7*value).UTC(), nil
	case Months:
		return addMonths(next.In(zone.Location), value).UTC(), nil
	case OnDemand:
		return time.Time{}, errors.Newf("on_demand plans do not advance")
	}
	return time.Time{}, errors.NewValidationError("interval_unit", errors.CodeInvalidIntervalUnit)
}

// AdvancePast steps next forward until it is strictly after now, so a
// plan that missed several ticks runs once and resumes its cadence.
func AdvancePast(next, now time.Time, unit IntervalUnit, value int, zone Zone) (time.Time, error) {
	for !next.After(now) {
		n, err := Advance(next, unit, value, zone)
		if err != nil {
			return time.Time{}, err
		}
		next = n
	}
	return next, nil
}

// addMonths clamps to the last day of the target month: Jan 31 + 1 month
// is Feb 28 (or 29), never March 3.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	last := target.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Expired reports whether a run at next falls after the end date, judged
// by the local calendar date of next in the plan's zone.
func Expired(next time.Time, end *Date, zone Zone) bool {
	if end == nil {
		return false
	}
	return DateOf(next, zone.Location).After(*end)
}
