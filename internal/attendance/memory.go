package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"scanattend/internal/clock"
)

type tupleKey struct {
	personID string
	date     clock.Date
	slot     int
}

// MemoryStore keeps records in process for dev/testing. The mutex makes
// InsertIfAbsent atomic within one process only; multi-instance deployments
// must use the Postgres repository.
type MemoryStore struct {
	mu      sync.Mutex
	records map[tupleKey]Record
	devices map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[tupleKey]Record),
		devices: make(map[string]time.Time),
		now:     time.Now,
	}
}

// InsertIfAbsent stores rec unless its tuple is already present.
func (m *MemoryStore) InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	key := tupleKey{personID: rec.PersonID, date: rec.CivilDate, slot: rec.SlotNumber}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[key]; ok {
		return existing, false, nil
	}
	rec.CreatedAt = m.now().UTC()
	m.records[key] = rec
	return rec, true, nil
}

// ListByDay returns records for one civil date sorted by slot.
func (m *MemoryStore) ListByDay(ctx context.Context, personID string, date clock.Date) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var res []Record
	for k, rec := range m.records {
		if k.personID == personID && k.date == date {
			res = append(res, rec)
		}
	}
	m.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].SlotNumber < res[j].SlotNumber })
	return res, nil
}

// CountByMonth counts distinct slots per civil date within the month.
func (m *MemoryStore) CountByMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	perDay := make(map[int]int)
	m.mu.Lock()
	for k := range m.records {
		if k.personID == personID && k.date.Year == year && k.date.Month == month {
			perDay[k.date.Day]++
		}
	}
	m.mu.Unlock()

	res := make([]DayCount, 0, len(perDay))
	for day, n := range perDay {
		res = append(res, DayCount{Day: day, Count: n})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Day < res[j].Day })
	return res, nil
}

// RegisterDevice remembers the first registration time of a device.
func (m *MemoryStore) RegisterDevice(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = m.now().UTC()
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// StaticDirectory is a fixed roster, used with the memory backend.
type StaticDirectory struct {
	ids map[string]struct{}
}

// NewStaticDirectory builds a roster from ids; blanks are skipped.
func NewStaticDirectory(ids ...string) *StaticDirectory {
	d := &StaticDirectory{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			d.ids[id] = struct{}{}
		}
	}
	return d
}

func (d *StaticDirectory) PersonExists(_ context.Context, personID string) (bool, error) {
	_, ok := d.ids[personID]
	return ok, nil
}
