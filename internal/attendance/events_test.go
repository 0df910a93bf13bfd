package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"scanattend/internal/clock"
	"scanattend/internal/queue"
)

func TestApplyRecordedInvalidatesMonth(t *testing.T) {
	cache := newStubCache()
	key := MonthKey("STU1", 2025, time.January)
	cache.stored[key] = []DayCount{{Day: 6, Count: 1}}

	body, err := EncodeRecorded(Record{
		ID:         "r1",
		PersonID:   "STU1",
		CivilDate:  clock.Date{Year: 2025, Month: time.January, Day: 6},
		SlotNumber: 2,
	})
	if err != nil {
		t.Fatalf("EncodeRecorded: %v", err)
	}
	evt, err := ApplyRecorded(context.Background(), cache, body)
	if err != nil {
		t.Fatalf("ApplyRecorded: %v", err)
	}
	if evt.RecordID != "r1" || evt.SlotNumber != 2 || evt.CivilDate.Day != 6 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if _, ok := cache.stored[key]; ok {
		t.Fatal("month summary should have been invalidated")
	}
}

func TestApplyRecordedRejectsMalformed(t *testing.T) {
	cache := newStubCache()
	if _, err := ApplyRecorded(context.Background(), cache, []byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := ApplyRecorded(context.Background(), cache, []byte(`{"civilDate":"2025-01-06"}`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConsumeRecordedDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := newStubCache()
	jan := MonthKey("STU1", 2025, time.January)
	feb := MonthKey("STU2", 2025, time.February)
	cache.stored[jan] = []DayCount{{Day: 6, Count: 1}}
	cache.stored[feb] = []DayCount{{Day: 1, Count: 1}}

	msgs := make(chan queue.Message, 4)
	body, _ := EncodeRecorded(Record{PersonID: "STU1", CivilDate: clock.Date{Year: 2025, Month: time.January, Day: 6}, SlotNumber: 1})
	msgs <- queue.Message{Type: EventRecorded, Body: body}
	msgs <- queue.Message{Type: "other", Body: []byte("x")}
	msgs <- queue.Message{Type: EventRecorded, Body: []byte("{")}
	close(msgs)

	if got := ConsumeRecorded(ctx, msgs, cache, discardLogger()); got != 1 {
		t.Fatalf("applied = %d, want 1", got)
	}
	if _, ok := cache.stored[jan]; ok {
		t.Fatal("January summary should be gone")
	}
	if _, ok := cache.stored[feb]; !ok {
		t.Fatal("unrelated summary must survive")
	}
}
