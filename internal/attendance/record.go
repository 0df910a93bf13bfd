package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scanattend/internal/clock"
)

var (
	// ErrInvalidInput marks malformed requests; they are never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable marks transient storage failures; callers may retry.
	ErrUnavailable = errors.New("attendance storage unavailable")
)

// DefaultSourceDevice is recorded when a scan names no device.
const DefaultSourceDevice = "WEB"

// Status of a persisted record.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// Record is one person's attendance for one slot on one civil date.
// (PersonID, CivilDate, SlotNumber) is unique in storage.
type Record struct {
	ID               string     `json:"id"`
	PersonID         string     `json:"personId"`
	CivilDate        clock.Date `json:"civilDate"`
	SlotNumber       int        `json:"slotNumber"`
	Subject          string     `json:"subject"`
	StartTime        string     `json:"startTime"`
	EndTime          string     `json:"endTime"`
	Status           Status     `json:"status"`
	SourceDevice     string     `json:"sourceDevice"`
	TimetableVersion string     `json:"timetableVersion"`
	ScannedAt        time.Time  `json:"scannedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// DayCount is the number of distinct slots recorded on a day of a month.
type DayCount struct {
	Day   int `json:"day"`
	Count int `json:"count"`
}

// OutcomeKind classifies the result of a scan.
type OutcomeKind string

const (
	OutcomeCreated         OutcomeKind = "Created"
	OutcomeAlreadyRecorded OutcomeKind = "AlreadyRecorded"
	OutcomeRejected        OutcomeKind = "Rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonPersonNotFound Reason = "PersonNotFound"
	ReasonOutsideHours   Reason = "OutsideHours"
	ReasonRestPeriod     Reason = "RestPeriod"
	ReasonNotScheduled   Reason = "NotScheduled"
)

// Outcome is the decision for one scan. Rejections are ordinary values.
type Outcome struct {
	Kind   OutcomeKind
	Reason Reason
	Record Record
}

// OK reports whether the scan is satisfied, whether or not this call wrote it.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeAlreadyRecorded
}

// Store persists records with an atomic uniqueness check on
// (PersonID, CivilDate, SlotNumber). InsertIfAbsent returns the stored row and
// whether this call inserted it.
type Store interface {
	InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error)
}

// Reader serves the read side; it may be backed by a replica.
type Reader interface {
	ListByDay(ctx context.Context, personID string, date clock.Date) ([]Record, error)
	CountByMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, error)
}

// Directory answers whether a person is on the roster.
type Directory interface {
	PersonExists(ctx context.Context, personID string) (bool, error)
}

// DeviceRegistry records scanning devices that were issued credentials.
type DeviceRegistry interface {
	RegisterDevice(ctx context.Context, deviceID string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
