package observer

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Run and step status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// Run is a recorded pipeline run.
type Run struct {
	RunID      string
	Pipeline   string
	Status     string
	Args       []byte // JSON, nil when the run had no args
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Steps      []StepRecord
}

// StepRecord is a recorded step of a run.
type StepRecord struct {
	Step     string
	Index    int
	Status   string
	Error    string
	Duration time.Duration
}

// Store persists pipeline runs (pipeline_run, pipeline_run_step) to SQLite
// or Postgres. The schema is migrated when the store is opened.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens dsn with driver (DriverSQLite or DriverPostgres) and migrates
// the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("observer: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer; avoids "database is locked" between observer callbacks.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	s, err := New(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and migrates the schema.
func New(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := migrateUp(db, driver); err != nil {
		return nil, err
	}
	return &Store{db: db, driver: driver}, nil
}

func migrateUp(db *sql.DB, driver string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DriverPostgres:
		target, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	// m.Close would close db as well; only the source is released.
	defer src.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders into the bind style of the driver.
func (s *Store) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(s.driver), query)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// StartRun records runID as running. Starting a known run ID again resets
// its status and finish time, keeping the step records.
func (s *Store) StartRun(ctx context.Context, runID, name string, args []byte) error {
	err := s.exec(ctx, `INSERT INTO pipeline_run (run_id, name, status, args, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, error = NULL, finished_at = NULL`,
		runID, name, StatusRunning, nullBytes(args), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records the final status of runID.
func (s *Store) FinishRun(ctx context.Context, runID, status, errText string) error {
	err := s.exec(ctx, `UPDATE pipeline_run SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, nullString(errText), time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// StartStep records step as running within runID. A step that is already
// recorded keeps its original index.
func (s *Store) StartStep(ctx context.Context, runID string, index int, step string) error {
	err := s.exec(ctx, `INSERT INTO pipeline_run_step (run_id, step, step_index, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, step) DO UPDATE SET status = excluded.status, error = NULL, duration_ms = NULL, updated_at = excluded.updated_at`,
		runID, step, index, StatusRunning, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert step %s/%s: %w", runID, step, err)
	}
	return nil
}

// FinishStep records the outcome of step within runID.
func (s *Store) FinishStep(ctx context.Context, runID, step, status, errText string, d time.Duration) error {
	err := s.exec(ctx, `UPDATE pipeline_run_step SET status = ?, error = ?, duration_ms = ?, updated_at = ?
		WHERE run_id = ? AND step = ?`,
		status, nullString(errText), d.Milliseconds(), time.Now().UnixMilli(), runID, step)
	if err != nil {
		return fmt.Errorf("failed to update step %s/%s: %w", runID, step, err)
	}
	return nil
}

const runColumns = `run_id, name, status, args, error, started_at, finished_at`

func scanRun(scanner interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		args     []byte
		errText  sql.NullString
		started  int64
		finished sql.NullInt64
	)
	if err := scanner.Scan(&r.RunID, &r.Pipeline, &r.Status, &args, &errText, &started, &finished); err != nil {
		return Run{}, err
	}
	if len(args) > 0 {
		r.Args = args
	}
	r.Error = errText.String
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return r, nil
}

// GetRun returns runID with its steps ordered by index.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM pipeline_run WHERE run_id = ?`), runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	r.Steps, err = s.steps(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT step, step_index, status, error, duration_ms
		FROM pipeline_run_step WHERE run_id = ? ORDER BY step_index, step`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of %s: %w", runID, err)
	}
	defer rows.Close()
	var out []StepRecord
	for rows.Next() {
		var (
			rec     StepRecord
			errText sql.NullString
			ms      sql.NullInt64
		)
		if err := rows.Scan(&rec.Step, &rec.Index, &rec.Status, &errText, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Error = errText.String
		rec.Duration = time.Duration(ms.Int64) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Pipeline string
	Status   string
	Limit    int
}

// ListRuns returns runs newest first, without their steps.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_run WHERE 1 = 1`
	var args []any
	if f.Pipeline != "" {
		query += ` AND name = ?`
		args = append(args, f.Pipeline)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY started_at DESC, run_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailedSteps returns the names of the failed steps of runID in step order.
func (s *Store) FailedSteps(ctx context.Context, runID string) ([]string, error) {
	steps, err := s.steps(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, st := range steps {
		if st.Status == StatusFailed {
			out = append(out, st.Step)
		}
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
