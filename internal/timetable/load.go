package timetable

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type catalogDoc struct {
	Active   string       `yaml:"active" validate:"required"`
	Versions []versionDoc `yaml:"versions" validate:"required,min=1,dive"`
}

type versionDoc struct {
	ID   string            `yaml:"id" validate:"required"`
	Days map[string]dayDoc `yaml:"days" validate:"required,dive"`
}

type dayDoc struct {
	Slots    []slotDoc `yaml:"slots" validate:"dive"`
	Subjects []*string `yaml:"subjects"`
}

type slotDoc struct {
	Number int    `yaml:"slot" validate:"gte=1"`
	Start  string `yaml:"start" validate:"required"`
	End    string `yaml:"end" validate:"required"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timetable %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("timetable %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	tables := make([]*Timetable, 0, len(doc.Versions))
	for _, v := range doc.Versions {
		days := make(map[time.Weekday]Day, len(v.Days))
		for name, d := range v.Days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return nil, fmt.Errorf("%w: version %s: unknown weekday %q", ErrInvalid, v.ID, name)
			}
			if _, dup := days[wd]; dup {
				return nil, fmt.Errorf("%w: version %s: weekday %s listed twice", ErrInvalid, v.ID, wd)
			}
			day, err := d.toDay()
			if err != nil {
				return nil, fmt.Errorf("%w: version %s, %s: %v", ErrInvalid, v.ID, wd, err)
			}
			days[wd] = day
		}
		t, err := New(v.ID, days)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return NewCatalog(doc.Active, tables...)
}

func (d dayDoc) toDay() (Day, error) {
	day := Day{
		Slots:    make([]Slot, 0, len(d.Slots)),
		Subjects: make([]string, len(d.Subjects)),
	}
	for _, s := range d.Slots {
		start, err := parseClock(s.Start)
		if err != nil {
			return Day{}, fmt.Errorf("slot %d start: %w", s.Number, err)
		}
		end, err := parseClock(s.End)
		if err != nil {
			return Day{}, fmt.Errorf("slot %d end: %w", s.Number, err)
		}
		day.Slots = append(day.Slots, Slot{Number: s.Number, Start: start, End: end})
	}
	for i, label := range d.Subjects {
		if label != nil {
			day.Subjects[i] = strings.TrimSpace(*label)
		}
	}
	return day, nil
}

// parseClock reads HH:MM into minutes of day; 24:00 is accepted as an end.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
