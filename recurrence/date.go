package recurrence

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chorus/jobs/errors"
)

// DateLayout is the canonical serialised form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day with no zone attached. End dates are stored this
// way: a plan ends after the last run whose local date is on or before it.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate validates the fields without normalising overflow, so
// February 30 is rejected instead of becoming March 2.
func NewDate(year, month, day int) (Date, error) {
	if month < 1 || month > 12 || day < 1 || year < 1 || year > 9999 {
		return Date{}, errors.Newf("invalid date %04d-%02d-%02d", year, month, day)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return Date{}, errors.Newf("invalid date %04d-%02d-%02d", year, month, day)
	}
	return Date{Year: year, Month: time.Month(month), Day: day}, nil
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses the canonical YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, errors.Wrapf(err, "parse date %q", s)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return other.Before(d)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "date must be a string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as TEXT.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan reads TEXT written by Value. SQLite may hand back a time.Time when
// the column was declared with a date affinity.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
	case []byte:
		return d.Scan(string(v))
	case time.Time:
		*d = DateOf(v, time.UTC)
	default:
		return errors.Newf("cannot scan %T into Date", src)
	}
	return nil
}
