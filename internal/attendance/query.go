package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"scanattend/internal/clock"
)

// MonthCache stores month summaries. Entries may be briefly stale.
type MonthCache interface {
	GetMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, bool, error)
	SetMonth(ctx context.Context, personID string, year int, month time.Month, days []DayCount) error
	InvalidateMonth(ctx context.Context, personID string, year int, month time.Month) error
}

// QueryService answers display queries over stored records. Every range is
// expressed in civil dates, never in instants.
type QueryService struct {
	reader Reader
	cache  MonthCache
	logger *slog.Logger
}

// NewQueryService creates a query service; cache may be nil.
func NewQueryService(reader Reader, cache MonthCache, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{reader: reader, cache: cache, logger: logger}
}

// ByDay returns the person's records for date, ascending by slot number.
func (q *QueryService) ByDay(ctx context.Context, personID string, date clock.Date) ([]Record, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return nil, fmt.Errorf("%w: person id required", ErrInvalidInput)
	}
	records, err := q.reader.ListByDay(ctx, personID, date)
	if err != nil {
		return nil, unavailable("list day", err)
	}
	if records == nil {
		records = []Record{}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].SlotNumber < records[j].SlotNumber })
	return records, nil
}

// ByMonth returns, per day with at least one record, the number of distinct
// slots recorded. Days ascend.
func (q *QueryService) ByMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return nil, fmt.Errorf("%w: person id required", ErrInvalidInput)
	}
	if _, err := clock.NewDate(year, month, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if q.cache != nil {
		days, ok, err := q.cache.GetMonth(ctx, personID, year, month)
		if err != nil {
			q.logger.Warn("month cache read failed", "person_id", personID, "error", err)
		} else if ok {
			return days, nil
		}
	}

	days, err := q.reader.CountByMonth(ctx, personID, year, month)
	if err != nil {
		return nil, unavailable("count month", err)
	}
	if days == nil {
		days = []DayCount{}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })

	if q.cache != nil {
		if err := q.cache.SetMonth(ctx, personID, year, month, days); err != nil {
			q.logger.Warn("month cache write failed", "person_id", personID, "error", err)
		}
	}
	return days, nil
}
