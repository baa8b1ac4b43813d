// Package history records finished review runs in a SQL database.
//
// Supported drivers are "sqlite" (modernc.org/sqlite, single file),
// "mysql" (go-sql-driver/mysql) and "pgx" (jackc/pgx/v5). The review engine
// never writes here; the CLI records a run after it completes.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dshills/swiss/review"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverPGX    = "pgx"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one recorded invocation.
type Run struct {
	ID         string
	Workflows  []string
	InputKind  string
	StopReason review.StopReason
	StepsRun   int
	CostUSD    float64
	StartedAt  time.Time
	FinishedAt time.Time

	// Results is only populated by Get.
	Results []review.Result
}

// Duration is the wall-clock time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type runRow struct {
	ID         string  `db:"run_id"`
	Workflows  string  `db:"workflows"`
	InputKind  string  `db:"input_kind"`
	StopReason string  `db:"stop_reason"`
	StepsRun   int     `db:"steps_run"`
	Results    int     `db:"result_count"`
	CostUSD    float64 `db:"cost_usd"`
	StartedMs  int64   `db:"started_at_ms"`
	FinishedMs int64   `db:"finished_at_ms"`
}

func (r runRow) toRun() Run {
	var workflows []string
	if r.Workflows != "" {
		workflows = strings.Split(r.Workflows, ",")
	}
	return Run{
		ID:         r.ID,
		Workflows:  workflows,
		InputKind:  r.InputKind,
		StopReason: review.StopReason(r.StopReason),
		StepsRun:   r.StepsRun,
		CostUSD:    r.CostUSD,
		StartedAt:  time.UnixMilli(r.StartedMs).UTC(),
		FinishedAt: time.UnixMilli(r.FinishedMs).UTC(),
	}
}

type resultRow struct {
	Seq      int    `db:"seq"`
	Workflow string `db:"workflow"`
	Step     string `db:"step"`
	Review   string `db:"review"`
	Score    int    `db:"score"`
	FilePath string `db:"file_path"`
	Line     int    `db:"line_number"`
}

// Store persists runs. It is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	driver string

	mu     sync.RWMutex
	closed bool
}

// Open connects to the database and creates the schema if needed.
//
// For sqlite the DSN is a file path; its directory is created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
	case DriverMySQL, DriverPGX:
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	configurePool(db, driver)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if err := sqlitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func configurePool(db *sqlx.DB, driver string) {
	if driver == DriverSQLite {
		// One writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)
}

func sqlitePragmas(ctx context.Context, db *sqlx.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// createTables uses column types every supported dialect accepts.
func (s *Store) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS review_runs (
			run_id VARCHAR(64) NOT NULL PRIMARY KEY,
			workflows TEXT NOT NULL,
			input_kind VARCHAR(16) NOT NULL,
			stop_reason VARCHAR(32) NOT NULL,
			steps_run INTEGER NOT NULL,
			result_count INTEGER NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL,
			started_at_ms BIGINT NOT NULL,
			finished_at_ms BIGINT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create review_runs table: %w", err)
	}

	resultsTable := `
		CREATE TABLE IF NOT EXISTS review_results (
			run_id VARCHAR(64) NOT NULL,
			seq INTEGER NOT NULL,
			workflow VARCHAR(255) NOT NULL,
			step VARCHAR(255) NOT NULL,
			review TEXT NOT NULL,
			score INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			line_number INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, resultsTable); err != nil {
		return fmt.Errorf("failed to create review_results table: %w", err)
	}
	return nil
}

// Record stores a finished run and its flagged results in one transaction.
// Each result is attributed to the workflow whose outcome contains it.
func (s *Store) Record(ctx context.Context, run Run, outcomes []review.Outcome) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if run.ID == "" {
		return errors.New("run ID is required")
	}

	total := 0
	for _, o := range outcomes {
		total += len(o.Results)
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO review_runs
				(run_id, workflows, input_kind, stop_reason, steps_run, result_count, cost_usd, started_at_ms, finished_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			run.ID, strings.Join(run.Workflows, ","), run.InputKind, string(run.StopReason),
			run.StepsRun, total, run.CostUSD, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		insert := tx.Rebind(`
			INSERT INTO review_results
				(run_id, seq, workflow, step, review, score, file_path, line_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		seq := 0
		for _, o := range outcomes {
			for _, r := range o.Results {
				if _, err := tx.ExecContext(ctx, insert,
					run.ID, seq, o.Workflow, r.Name, r.Review, r.Score, r.FilePath, r.Line,
				); err != nil {
					return fmt.Errorf("failed to insert result %d: %w", seq, err)
				}
				seq++
			}
		}
		return nil
	})
}

// List returns up to limit runs, newest first. A limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT run_id, workflows, input_kind, stop_reason, steps_run, result_count, cost_usd, started_at_ms, finished_at_ms
		FROM review_runs
		ORDER BY started_at_ms DESC, run_id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// Get returns a run with its results, or ErrNotFound.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	if err := s.checkOpen(); err != nil {
		return Run{}, err
	}

	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT run_id, workflows, input_kind, stop_reason, steps_run, result_count, cost_usd, started_at_ms, finished_at_ms
		FROM review_runs
		WHERE run_id = ?`), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}

	var results []resultRow
	err = s.db.SelectContext(ctx, &results, s.db.Rebind(`
		SELECT seq, workflow, step, review, score, file_path, line_number
		FROM review_results
		WHERE run_id = ?
		ORDER BY seq`), runID)
	if err != nil {
		return Run{}, fmt.Errorf("failed to load results: %w", err)
	}

	run := row.toRun()
	run.Results = make([]review.Result, 0, len(results))
	for _, r := range results {
		run.Results = append(run.Results, review.Result{
			Name:     r.Step,
			Review:   r.Review,
			Score:    r.Score,
			FilePath: r.FilePath,
			Line:     r.Line,
		})
	}
	return run, nil
}

// Close releases the database connection. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("history store is closed")
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
