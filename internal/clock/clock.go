package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxOffset = 14 * time.Hour

// Date is a calendar day in the deployment's civil offset.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate validates the parts and returns a Date.
func NewDate(year int, month time.Month, day int) (Date, error) {
	if year < 1 || year > 9999 {
		return Date{}, fmt.Errorf("year %d out of range", year)
	}
	if month < time.January || month > time.December {
		return Date{}, fmt.Errorf("month %d out of range", month)
	}
	if day < 1 || day > DaysIn(year, month) {
		return Date{}, fmt.Errorf("day %d out of range for %04d-%02d", day, year, month)
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// DateOf reads the calendar fields of t as stored, ignoring its location.
// Postgres DATE columns come back as UTC midnight.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Time returns midnight of the date in UTC, the form used for DATE columns.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Moment is an instant expressed in civil terms.
type Moment struct {
	Date        Date
	MinuteOfDay int
	Weekday     time.Weekday
}

// Resolver converts instants to civil moments using a fixed offset from UTC.
// It is the only source of "now" for attendance decisions.
type Resolver struct {
	offset time.Duration
	now    func() time.Time
}

// NewResolver builds a resolver. A nil now defaults to time.Now.
func NewResolver(offset time.Duration, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{offset: offset, now: now}
}

// Offset returns the configured civil offset.
func (r *Resolver) Offset() time.Duration { return r.offset }

// Now captures the current instant.
func (r *Resolver) Now() time.Time {
	return r.now().UTC()
}

// Resolve shifts the instant by the fixed offset and reads the calendar
// fields in UTC, so host TZ and locale never participate.
func (r *Resolver) Resolve(instant time.Time) Moment {
	shifted := instant.UTC().Add(r.offset)
	hour, minute, _ := shifted.Clock()
	return Moment{
		Date:        DateOf(shifted),
		MinuteOfDay: hour*60 + minute,
		Weekday:     shifted.Weekday(),
	}
}

// ParseOffset accepts "Z", "UTC", "+05:30", "-0300" and "+05".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "z") || strings.EqualFold(s, "utc") {
		return 0, nil
	}
	sign := time.Duration(1)
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("offset %q must start with + or -", s)
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	var hh, mm string
	switch len(body) {
	case 2:
		hh, mm = body, "00"
	case 4:
		hh, mm = body[:2], body[2:]
	default:
		return 0, fmt.Errorf("offset %q: expected ±HH, ±HHMM or ±HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("offset %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("offset %q: %w", s, err)
	}
	if m >= 60 {
		return 0, fmt.Errorf("offset %q: minutes out of range", s)
	}
	d := sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	if d > maxOffset || d < -maxOffset {
		return 0, fmt.Errorf("offset %q exceeds ±14h", s)
	}
	return d, nil
}
