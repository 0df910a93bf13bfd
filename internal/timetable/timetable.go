package timetable

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalid wraps every load-time validation failure.
var ErrInvalid = errors.New("invalid timetable")

const minutesPerDay = 24 * 60

// Slot is one scheduled session window, [Start, End) in minutes of day.
type Slot struct {
	Number int
	Start  int
	End    int
}

// Contains reports whether minute falls inside the half-open window.
func (s Slot) Contains(minute int) bool {
	return s.Start <= minute && minute < s.End
}

// StartClock formats Start as HH:MM.
func (s Slot) StartClock() string { return formatMinute(s.Start) }

// EndClock formats End as HH:MM.
func (s Slot) EndClock() string { return formatMinute(s.End) }

// Day is the schedule for one weekday. Subjects is indexed by slot number-1;
// an empty label means no session is scheduled in that slot.
type Day struct {
	Slots    []Slot
	Subjects []string
}

// Timetable is one immutable, validated timetable version.
type Timetable struct {
	version string
	days    [7]Day
}

// New validates days and returns an immutable timetable. Weekdays absent from
// days have no slots.
func New(version string, days map[time.Weekday]Day) (*Timetable, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: version id is required", ErrInvalid)
	}
	t := &Timetable{version: version}
	for wd, day := range days {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, fmt.Errorf("%w: version %s: weekday %d out of range", ErrInvalid, version, wd)
		}
		if err := validateDay(day); err != nil {
			return nil, fmt.Errorf("%w: version %s, %s: %v", ErrInvalid, version, wd, err)
		}
		t.days[wd] = Day{
			Slots:    append([]Slot(nil), day.Slots...),
			Subjects: append([]string(nil), day.Subjects...),
		}
	}
	return t, nil
}

func validateDay(day Day) error {
	for i, s := range day.Slots {
		if s.Number != i+1 {
			return fmt.Errorf("slot at position %d has number %d, want %d", i, s.Number, i+1)
		}
		if s.Start < 0 || s.End > minutesPerDay {
			return fmt.Errorf("slot %d lies outside the day", s.Number)
		}
		if s.Start >= s.End {
			return fmt.Errorf("slot %d starts at %s but ends at %s", s.Number, s.StartClock(), s.EndClock())
		}
		if i > 0 && day.Slots[i-1].End > s.Start {
			return fmt.Errorf("slot %d overlaps slot %d", s.Number, day.Slots[i-1].Number)
		}
	}
	if len(day.Subjects) < len(day.Slots) {
		return fmt.Errorf("%d slots but only %d subject entries", len(day.Slots), len(day.Subjects))
	}
	return nil
}

// Version returns the version identifier.
func (t *Timetable) Version() string { return t.version }

// SlotsFor returns a copy of the weekday's slots in order.
func (t *Timetable) SlotsFor(wd time.Weekday) []Slot {
	if wd < time.Sunday || wd > time.Saturday {
		return nil
	}
	return append([]Slot(nil), t.days[wd].Slots...)
}

// SubjectFor returns the subject scheduled at slotNumber, if any.
func (t *Timetable) SubjectFor(wd time.Weekday, slotNumber int) (string, bool) {
	if wd < time.Sunday || wd > time.Saturday {
		return "", false
	}
	subjects := t.days[wd].Subjects
	if slotNumber < 1 || slotNumber > len(subjects) || slotNumber > len(t.days[wd].Slots) {
		return "", false
	}
	label := subjects[slotNumber-1]
	return label, label != ""
}

// Catalog holds every known timetable version and names the active one.
type Catalog struct {
	active   string
	versions map[string]*Timetable
}

// NewCatalog builds a catalog; active must name one of tables.
func NewCatalog(active string, tables ...*Timetable) (*Catalog, error) {
	c := &Catalog{versions: make(map[string]*Timetable, len(tables))}
	for _, t := range tables {
		if _, dup := c.versions[t.version]; dup {
			return nil, fmt.Errorf("%w: duplicate version %q", ErrInvalid, t.version)
		}
		c.versions[t.version] = t
	}
	if _, ok := c.versions[active]; !ok {
		return nil, fmt.Errorf("%w: active version %q is not defined", ErrInvalid, active)
	}
	c.active = active
	return c, nil
}

// Active returns the timetable currently in force.
func (c *Catalog) Active() *Timetable { return c.versions[c.active] }

// Version looks up a timetable by id.
func (c *Catalog) Version(id string) (*Timetable, bool) {
	t, ok := c.versions[id]
	return t, ok
}

// Versions lists version ids in lexical order.
func (c *Catalog) Versions() []string {
	ids := make([]string, 0, len(c.versions))
	for id := range c.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithActive returns a copy of the catalog with a different active version.
func (c *Catalog) WithActive(id string) (*Catalog, error) {
	if _, ok := c.Version(id); !ok {
		return nil, fmt.Errorf("%w: active version %q is not defined (have %v)", ErrInvalid, id, c.Versions())
	}
	return &Catalog{active: id, versions: c.versions}, nil
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
