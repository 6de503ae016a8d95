package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// CalendarDate is a timezone-free Gregorian date.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewCalendarDate returns the normalized date for year/month/day, rolling
// overflowing components over the way time.Date does.
func NewCalendarDate(year int, month time.Month, day int) CalendarDate {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf drops the clock component of t in its own location.
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// isoLayouts are tried in order after the strict YYYY-MM-DD form. zoned
// layouts carry an offset and are converted to UTC before truncation.
var isoLayouts = []struct {
	layout string
	zoned  bool
}{
	{"2006-01-02T15:04:05.999999999Z07:00", true},
	{"2006-01-02T15:04:05.999999999Z0700", true},
	{"2006-01-02T15:04Z07:00", true},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02 15:04Z07:00", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02T15", false},
	{"2006-01-02 15:04:05.999999999", false},
	{"2006-01-02 15:04", false},
	{"20060102", false},
}

// ParseDate normalizes a date or ISO-8601 datetime string into a calendar
// date. Offsets are applied (converted to UTC) before the time of day is
// discarded, so "2024-03-01T01:00:00+03:00" yields 2024-02-29.
func ParseDate(s string) (CalendarDate, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	for _, l := range isoLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.zoned {
			t = t.UTC()
		}
		return DateOf(t), nil
	}
	return CalendarDate{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
}

// MustParseDate is ParseDate for literals; it panics on error.
func MustParseDate(s string) CalendarDate {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the date.
func (d CalendarDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero value (no date set).
func (d CalendarDate) IsZero() bool {
	return d == CalendarDate{}
}

// AddDays returns the date n days after d (n may be negative).
func (d CalendarDate) AddDays(n int) CalendarDate {
	return NewCalendarDate(d.Year, d.Month, d.Day+n)
}

// DaysSince returns the signed number of days from other to d.
func (d CalendarDate) DaysSince(other CalendarDate) int {
	return int(d.Time().Sub(other.Time()).Hours() / 24)
}

func (d CalendarDate) Before(other CalendarDate) bool { return d.Time().Before(other.Time()) }
func (d CalendarDate) After(other CalendarDate) bool  { return d.Time().After(other.Time()) }

func (d CalendarDate) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func (d CalendarDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *CalendarDate) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDateFormat, data)
	}
	if s == nil || *s == "" {
		*d = CalendarDate{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
