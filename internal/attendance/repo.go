package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"scanattend/internal/clock"
)

const uniqueViolation = "23505"

// Repository persists attendance data in Postgres. Writes go to the primary;
// reads may be served by a replica.
type Repository struct {
	db   *sql.DB
	read *sql.DB
}

// NewRepository creates a repo. A nil replica reads from the primary.
func NewRepository(primary, replica *sql.DB) *Repository {
	if replica == nil {
		replica = primary
	}
	return &Repository{db: primary, read: replica}
}

const recordColumns = `id, person_id, civil_date, slot_number, subject, start_time, end_time, status, source_device, timetable_version, scanned_at, created_at`

// InsertIfAbsent relies on the unique index over (person_id, civil_date,
// slot_number). When the insert loses to an existing or concurrent row it
// returns that row with inserted=false.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, person_id, civil_date, slot_number, subject, start_time, end_time, status, source_device, timetable_version, scanned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (person_id, civil_date, slot_number) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.PersonID, rec.CivilDate.Time(), rec.SlotNumber, rec.Subject, rec.StartTime, rec.EndTime,
		string(rec.Status), rec.SourceDevice, rec.TimetableVersion, rec.ScannedAt)

	err := row.Scan(&rec.CreatedAt)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		existing, err := r.findByTuple(ctx, rec.PersonID, rec.CivilDate, rec.SlotNumber)
		if err != nil {
			return Record{}, false, fmt.Errorf("load existing record: %w", err)
		}
		return existing, false, nil
	default:
		return Record{}, false, err
	}
}

// findByTuple reads from the primary; the conflicting row may not have
// reached a replica yet.
func (r *Repository) findByTuple(ctx context.Context, personID string, date clock.Date, slot int) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE person_id = $1 AND civil_date = $2 AND slot_number = $3
	`, personID, date.Time(), slot)
	return scanRecord(row)
}

// ListByDay returns a person's records on one civil date.
func (r *Repository) ListByDay(ctx context.Context, personID string, date clock.Date) ([]Record, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE person_id = $1 AND civil_date = $2
		ORDER BY slot_number ASC
	`, personID, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountByMonth groups a person's records in one month by civil date.
func (r *Repository) CountByMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	rows, err := r.read.QueryContext(ctx, `
		SELECT EXTRACT(DAY FROM civil_date)::int AS day, COUNT(DISTINCT slot_number)::int AS lectures
		FROM attendance_records
		WHERE person_id = $1 AND civil_date >= $2 AND civil_date < $3
		GROUP BY civil_date
		ORDER BY civil_date ASC
	`, personID, first, first.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		res = append(res, dc)
	}
	return res, rows.Err()
}

// PersonExists checks the roster table on the primary. It gates writes, so a
// lagging replica must not turn a fresh enrolment into PersonNotFound.
func (r *Repository) PersonExists(ctx context.Context, personID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM people WHERE person_id = $1)`, personID).Scan(&exists)
	return exists, err
}

// RegisterDevice ensures a device record exists.
func (r *Repository) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id required", ErrInvalidInput)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// Ping verifies the primary is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec    Record
		date   time.Time
		status string
	)
	if err := s.Scan(&rec.ID, &rec.PersonID, &date, &rec.SlotNumber, &rec.Subject, &rec.StartTime, &rec.EndTime,
		&status, &rec.SourceDevice, &rec.TimetableVersion, &rec.ScannedAt, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.CivilDate = clock.DateOf(date)
	rec.Status = Status(status)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
