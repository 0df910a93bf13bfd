package attendance

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"scanattend/internal/clock"
	"scanattend/migrations"
)

type sqlCall struct {
	query string
	args  []driver.Value
}

type answerFunc func(query string, args []driver.Value) (cols []string, rows [][]driver.Value, err error)

// scriptedDB is a database/sql connector that records every statement and
// answers it from a test-supplied function.
type scriptedDB struct {
	mu     sync.Mutex
	calls  []sqlCall
	answer answerFunc
}

func newScriptedDB(t *testing.T, answer answerFunc) (*sql.DB, *scriptedDB) {
	t.Helper()
	s := &scriptedDB{answer: answer}
	db := sql.OpenDB(s)
	t.Cleanup(func() { _ = db.Close() })
	return db, s
}

// refuseAll fails every statement; handles that must stay idle use it.
func refuseAll(string, []driver.Value) ([]string, [][]driver.Value, error) {
	return nil, nil, errors.New("unexpected statement on this handle")
}

func (s *scriptedDB) Connect(context.Context) (driver.Conn, error) { return &scriptedConn{db: s}, nil }
func (s *scriptedDB) Driver() driver.Driver                        { return scriptedDriver{db: s} }

func (s *scriptedDB) run(query string, named []driver.NamedValue) ([]string, [][]driver.Value, error) {
	args := make([]driver.Value, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	s.mu.Lock()
	s.calls = append(s.calls, sqlCall{query: query, args: args})
	s.mu.Unlock()
	return s.answer(query, args)
}

func (s *scriptedDB) Calls() []sqlCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sqlCall(nil), s.calls...)
}

// Matching returns the recorded calls whose SQL contains fragment.
func (s *scriptedDB) Matching(fragment string) []sqlCall {
	var out []sqlCall
	for _, c := range s.Calls() {
		if strings.Contains(c.query, fragment) {
			out = append(out, c)
		}
	}
	return out
}

type scriptedDriver struct{ db *scriptedDB }

func (d scriptedDriver) Open(string) (driver.Conn, error) { return &scriptedConn{db: d.db}, nil }

type scriptedConn struct{ db *scriptedDB }

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements not supported")
}
func (c *scriptedConn) Close() error { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	cols, rows, err := c.db.run(query, args)
	if err != nil {
		return nil, err
	}
	return &scriptedRows{cols: cols, rows: rows}, nil
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if _, _, err := c.db.run(query, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

type scriptedRows struct {
	cols []string
	rows [][]driver.Value
	next int
}

func (r *scriptedRows) Columns() []string { return r.cols }
func (r *scriptedRows) Close() error      { return nil }
func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

var (
	monday     = clock.Date{Year: 2025, Month: time.January, Day: 6}
	scannedAt  = time.Date(2025, time.January, 6, 4, 10, 0, 0, time.UTC)
	storedAt   = time.Date(2025, time.January, 6, 4, 10, 1, 0, time.UTC)
	recordCols = strings.Split(strings.ReplaceAll(recordColumns, " ", ""), ",")
)

func pendingRecord() Record {
	return Record{
		ID:               "11111111-1111-1111-1111-111111111111",
		PersonID:         "STU1",
		CivilDate:        monday,
		SlotNumber:       1,
		Subject:          "Maths",
		StartTime:        "09:40",
		EndTime:          "10:20",
		Status:           StatusPresent,
		SourceDevice:     "gate-1",
		TimetableVersion: "scenario",
		ScannedAt:        scannedAt,
	}
}

// storedRow is the row Postgres holds for the winning scan of slot 1.
func storedRow() []driver.Value {
	return []driver.Value{
		"22222222-2222-2222-2222-222222222222", "STU1", monday.Time(), int64(1), "Maths",
		"09:40", "10:20", "Present", "gate-0", "scenario", scannedAt.Add(-time.Minute), storedAt,
	}
}

// conflictAnswer answers the insert with insertErr (or no row when nil) and
// the read-back with the stored row.
func conflictAnswer(insertErr error) answerFunc {
	return func(query string, _ []driver.Value) ([]string, [][]driver.Value, error) {
		switch {
		case strings.Contains(query, "INSERT INTO attendance_records"):
			if insertErr != nil {
				return nil, nil, insertErr
			}
			return []string{"created_at"}, nil, nil
		case strings.Contains(query, "slot_number = $3"):
			return recordCols, [][]driver.Value{storedRow()}, nil
		}
		return nil, nil, errors.New("unexpected query")
	}
}

func TestRepositoryInsertCreates(t *testing.T) {
	primary, p := newScriptedDB(t, func(query string, _ []driver.Value) ([]string, [][]driver.Value, error) {
		return []string{"created_at"}, [][]driver.Value{{storedAt}}, nil
	})
	replica, r := newScriptedDB(t, refuseAll)
	repo := NewRepository(primary, replica)

	got, inserted, err := repo.InsertIfAbsent(context.Background(), pendingRecord())
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if !inserted || !got.CreatedAt.Equal(storedAt) || got.ID != pendingRecord().ID {
		t.Fatalf("unexpected result inserted=%v rec=%+v", inserted, got)
	}

	calls := p.Matching("ON CONFLICT (person_id, civil_date, slot_number) DO NOTHING")
	if len(calls) != 1 {
		t.Fatalf("expected 1 conditional insert, got %d", len(calls))
	}
	args := calls[0].args
	if date, ok := args[2].(time.Time); !ok || !date.Equal(monday.Time()) {
		t.Errorf("civil_date arg = %v, want %v", args[2], monday.Time())
	}
	if args[3] != int64(1) || args[7] != "Present" || args[9] != "scenario" {
		t.Errorf("unexpected insert args %v", args)
	}
	if n := len(r.Calls()); n != 0 {
		t.Fatalf("replica saw %d statements on the write path", n)
	}
}

func TestRepositoryInsertConflictReturnsStoredRow(t *testing.T) {
	cases := []struct {
		name      string
		insertErr error
	}{
		{"do nothing returns no row", nil},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "attendance_records_person_date_slot_key"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			primary, p := newScriptedDB(t, conflictAnswer(tc.insertErr))
			replica, r := newScriptedDB(t, refuseAll)
			repo := NewRepository(primary, replica)

			got, inserted, err := repo.InsertIfAbsent(context.Background(), pendingRecord())
			if err != nil {
				t.Fatalf("InsertIfAbsent: %v", err)
			}
			if inserted {
				t.Fatal("conflict must report inserted=false")
			}
			if got.ID != "22222222-2222-2222-2222-222222222222" || got.SourceDevice != "gate-0" {
				t.Fatalf("expected the stored row, got %+v", got)
			}
			if got.CivilDate != monday || got.Status != StatusPresent || !got.CreatedAt.Equal(storedAt) {
				t.Fatalf("stored row decoded wrongly: %+v", got)
			}

			readBack := p.Matching("slot_number = $3")
			if len(readBack) != 1 {
				t.Fatalf("expected read-back on primary, got %d", len(readBack))
			}
			if args := readBack[0].args; args[0] != "STU1" || args[2] != int64(1) {
				t.Errorf("read-back args %v", args)
			}
			if n := len(r.Calls()); n != 0 {
				t.Fatalf("read-back must not use the replica (%d calls)", n)
			}
		})
	}
}

func TestRepositoryInsertFailurePropagates(t *testing.T) {
	boom := &pgconn.PgError{Code: "08006"}
	primary, p := newScriptedDB(t, conflictAnswer(boom))
	repo := NewRepository(primary, nil)

	_, inserted, err := repo.InsertIfAbsent(context.Background(), pendingRecord())
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "08006" {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if inserted {
		t.Fatal("failed insert reported as inserted")
	}
	if n := len(p.Matching("slot_number = $3")); n != 0 {
		t.Fatalf("non-conflict failure must not read back (%d calls)", n)
	}
}

func TestRepositoryPersonExistsUsesPrimary(t *testing.T) {
	primary, p := newScriptedDB(t, func(string, []driver.Value) ([]string, [][]driver.Value, error) {
		return []string{"exists"}, [][]driver.Value{{true}}, nil
	})
	// A lagging replica that has not seen the enrolment yet.
	replica, r := newScriptedDB(t, func(string, []driver.Value) ([]string, [][]driver.Value, error) {
		return []string{"exists"}, [][]driver.Value{{false}}, nil
	})
	repo := NewRepository(primary, replica)

	ok, err := repo.PersonExists(context.Background(), "STU-NEW")
	if err != nil || !ok {
		t.Fatalf("PersonExists = %v, %v; want true", ok, err)
	}
	if calls := p.Matching("FROM people"); len(calls) != 1 || calls[0].args[0] != "STU-NEW" {
		t.Fatalf("primary roster lookups: %+v", calls)
	}
	if n := len(r.Calls()); n != 0 {
		t.Fatalf("roster lookup hit the replica %d times", n)
	}
}

func TestRepositoryReadsUseReplica(t *testing.T) {
	primary, p := newScriptedDB(t, refuseAll)
	replica, r := newScriptedDB(t, func(query string, _ []driver.Value) ([]string, [][]driver.Value, error) {
		switch {
		case strings.Contains(query, "COUNT(DISTINCT slot_number)"):
			return []string{"day", "lectures"}, [][]driver.Value{{int64(2), int64(3)}, {int64(31), int64(1)}}, nil
		case strings.Contains(query, "ORDER BY slot_number"):
			return recordCols, [][]driver.Value{storedRow()}, nil
		}
		return nil, nil, errors.New("unexpected query")
	})
	repo := NewRepository(primary, replica)
	ctx := context.Background()

	days, err := repo.CountByMonth(ctx, "STU1", 2024, time.December)
	if err != nil {
		t.Fatalf("CountByMonth: %v", err)
	}
	if len(days) != 2 || days[0] != (DayCount{Day: 2, Count: 3}) || days[1] != (DayCount{Day: 31, Count: 1}) {
		t.Fatalf("days = %+v", days)
	}
	month := r.Matching("COUNT(DISTINCT slot_number)")
	if len(month) != 1 {
		t.Fatalf("expected one month query, got %d", len(month))
	}
	from, _ := month[0].args[1].(time.Time)
	to, _ := month[0].args[2].(time.Time)
	if !from.Equal(time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)) ||
		!to.Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month bounds [%v, %v)", from, to)
	}

	records, err := repo.ListByDay(ctx, "STU1", monday)
	if err != nil {
		t.Fatalf("ListByDay: %v", err)
	}
	if len(records) != 1 || records[0].CivilDate != monday || records[0].SlotNumber != 1 {
		t.Fatalf("records = %+v", records)
	}
	if n := len(p.Calls()); n != 0 {
		t.Fatalf("primary saw %d read statements", n)
	}
}

func TestRepositoryWithoutReplicaReadsPrimary(t *testing.T) {
	primary, p := newScriptedDB(t, func(string, []driver.Value) ([]string, [][]driver.Value, error) {
		return []string{"day", "lectures"}, nil, nil
	})
	repo := NewRepository(primary, nil)
	if _, err := repo.CountByMonth(context.Background(), "STU1", 2025, time.February); err != nil {
		t.Fatalf("CountByMonth: %v", err)
	}
	if n := len(p.Calls()); n != 1 {
		t.Fatalf("primary calls = %d, want 1", n)
	}
}

// TestRepositoryConcurrentInsertPostgres runs against a real database when
// ATTENDANCE_TEST_DATABASE_URL is set.
func TestRepositoryConcurrentInsertPostgres(t *testing.T) {
	dsn := os.Getenv("ATTENDANCE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ATTENDANCE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	person := "it-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM attendance_records WHERE person_id = $1`, person)
	})

	repo := NewRepository(db, nil)
	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		ids      = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := pendingRecord()
			rec.ID = uuid.NewString()
			rec.PersonID = person
			got, ok, err := repo.InsertIfAbsent(ctx, rec)
			if err != nil {
				t.Errorf("InsertIfAbsent: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				inserted++
			}
			ids[got.ID] = true
		}()
	}
	wg.Wait()

	if inserted != 1 || len(ids) != 1 {
		t.Fatalf("inserted=%d distinct ids=%d, want 1 and 1", inserted, len(ids))
	}
	records, err := repo.ListByDay(ctx, person, monday)
	if err != nil || len(records) != 1 {
		t.Fatalf("ListByDay = %d records, err %v", len(records), err)
	}
}
