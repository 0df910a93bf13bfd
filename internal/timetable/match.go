package timetable

import "time"

// NoSession explains why a minute of day matched no slot.
type NoSession string

const (
	OutsideHours NoSession = "OutsideHours"
	RestPeriod   NoSession = "RestPeriod"
)

// MatchResult is either a matched Slot or a Miss reason.
type MatchResult struct {
	Slot Slot
	Miss NoSession
}

// Matched reports whether a slot was found.
func (m MatchResult) Matched() bool { return m.Miss == "" }

// Match finds the slot whose [start, end) window contains minute. A scan at a
// slot's end belongs to the following slot or gap, never to both.
func (t *Timetable) Match(wd time.Weekday, minute int) MatchResult {
	slots := t.SlotsFor(wd)
	if len(slots) == 0 || minute < slots[0].Start || minute >= slots[len(slots)-1].End {
		return MatchResult{Miss: OutsideHours}
	}
	for _, s := range slots {
		if s.Contains(minute) {
			return MatchResult{Slot: s}
		}
	}
	return MatchResult{Miss: RestPeriod}
}
