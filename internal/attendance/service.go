package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scanattend/internal/clock"
	"scanattend/internal/timetable"
)

// Recorder decides whether a scan counts and writes it at most once.
type Recorder struct {
	store     Store
	people    Directory
	timetable *timetable.Timetable
	clock     *clock.Resolver
}

// NewRecorder creates a recorder for one timetable version.
func NewRecorder(store Store, people Directory, tt *timetable.Timetable, resolver *clock.Resolver) *Recorder {
	return &Recorder{store: store, people: people, timetable: tt, clock: resolver}
}

// Timetable returns the version decisions are made against.
func (r *Recorder) Timetable() *timetable.Timetable { return r.timetable }

// Record marks personID present for the slot in force at instant. Duplicate
// scans for the same slot and day return AlreadyRecorded with the stored row.
// A non-nil error is either ErrInvalidInput or wraps ErrUnavailable.
func (r *Recorder) Record(ctx context.Context, personID string, instant time.Time, sourceDevice string) (Outcome, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return Outcome{}, fmt.Errorf("%w: person id required", ErrInvalidInput)
	}
	sourceDevice = strings.TrimSpace(sourceDevice)
	if sourceDevice == "" {
		sourceDevice = DefaultSourceDevice
	}

	exists, err := r.people.PersonExists(ctx, personID)
	if err != nil {
		return Outcome{}, unavailable("lookup person", err)
	}
	if !exists {
		return rejected(ReasonPersonNotFound), nil
	}

	moment := r.clock.Resolve(instant)
	match := r.timetable.Match(moment.Weekday, moment.MinuteOfDay)
	if !match.Matched() {
		return rejected(Reason(match.Miss)), nil
	}
	subject, ok := r.timetable.SubjectFor(moment.Weekday, match.Slot.Number)
	if !ok {
		return rejected(ReasonNotScheduled), nil
	}

	rec := Record{
		ID:               uuid.NewString(),
		PersonID:         personID,
		CivilDate:        moment.Date,
		SlotNumber:       match.Slot.Number,
		Subject:          subject,
		StartTime:        match.Slot.StartClock(),
		EndTime:          match.Slot.EndClock(),
		Status:           StatusPresent,
		SourceDevice:     sourceDevice,
		TimetableVersion: r.timetable.Version(),
		ScannedAt:        instant.UTC(),
	}
	saved, inserted, err := r.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return Outcome{}, unavailable("insert attendance record", err)
	}
	if inserted {
		return Outcome{Kind: OutcomeCreated, Record: saved}, nil
	}
	return Outcome{Kind: OutcomeAlreadyRecorded, Record: saved}, nil
}

func rejected(reason Reason) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}
