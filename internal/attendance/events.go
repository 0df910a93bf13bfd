package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"scanattend/internal/clock"
	"scanattend/internal/queue"
)

// EventRecorded is published after a record is created.
const EventRecorded = "attendance.recorded"

// RecordedEvent is the payload of EventRecorded.
type RecordedEvent struct {
	RecordID   string     `json:"recordId"`
	PersonID   string     `json:"personId"`
	CivilDate  clock.Date `json:"civilDate"`
	SlotNumber int        `json:"slotNumber"`
}

// EncodeRecorded builds the event body for a freshly created record.
func EncodeRecorded(rec Record) ([]byte, error) {
	return json.Marshal(RecordedEvent{
		RecordID:   rec.ID,
		PersonID:   rec.PersonID,
		CivilDate:  rec.CivilDate,
		SlotNumber: rec.SlotNumber,
	})
}

// ApplyRecorded drops the month summary the event makes stale.
func ApplyRecorded(ctx context.Context, cache MonthCache, body []byte) (RecordedEvent, error) {
	var evt RecordedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return RecordedEvent{}, fmt.Errorf("decode %s: %w", EventRecorded, err)
	}
	if evt.PersonID == "" {
		return RecordedEvent{}, fmt.Errorf("decode %s: %w", EventRecorded, ErrInvalidInput)
	}
	if err := cache.InvalidateMonth(ctx, evt.PersonID, evt.CivilDate.Year, evt.CivilDate.Month); err != nil {
		return evt, fmt.Errorf("invalidate month for %s: %w", evt.PersonID, err)
	}
	return evt, nil
}

// ConsumeRecorded applies recorded events from msgs until the channel closes
// and returns how many were applied. Other message types are skipped.
func ConsumeRecorded(ctx context.Context, msgs <-chan queue.Message, cache MonthCache, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	applied := 0
	for msg := range msgs {
		if msg.Type != EventRecorded {
			logger.Debug("skipping message", "type", msg.Type)
			continue
		}
		evt, err := ApplyRecorded(ctx, cache, msg.Body)
		if err != nil {
			logger.Warn("recorded event not applied", "error", err)
			continue
		}
		applied++
		logger.Debug("month summary invalidated",
			"person_id", evt.PersonID, "civil_date", evt.CivilDate.String(), "slot", evt.SlotNumber)
	}
	return applied
}
