// Package history keeps verification runs in a SQLite database so that
// results can be compared across runs and served to agents.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"axisverify/internal/harness"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Run is the summary row of one verification run.
type Run struct {
	ID        string        `json:"id"`
	Device    string        `json:"device"`
	Axes      []string      `json:"axes"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
}

// Succeeded reports whether no case failed or errored.
func (r Run) Succeeded() bool {
	return r.Failed == 0 && r.Errors == 0
}

// CaseRow is the stored outcome of one case on one axis.
type CaseRow struct {
	RunID    string         `json:"runId"`
	Axis     string         `json:"axis"`
	CaseID   string         `json:"caseId"`
	Result   harness.Result `json:"result"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// DefaultPath is the database location below the user's data directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("history: locate config dir: %w", err)
	}
	return filepath.Join(dir, "axisverify", "history.db"), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			device      TEXT NOT NULL,
			axes        TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			total       INTEGER NOT NULL,
			passed      INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			errors      INTEGER NOT NULL,
			report      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

		CREATE TABLE IF NOT EXISTS case_results (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			axis        TEXT NOT NULL,
			case_id     TEXT NOT NULL,
			result      TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_case_results_case ON case_results(case_id, axis);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a suite result with its case rows in one transaction.
func (s *Store) Record(ctx context.Context, suite harness.SuiteResult) error {
	if suite.RunID == "" {
		return fmt.Errorf("history: suite result has no run id")
	}
	report, err := json.Marshal(suite)
	if err != nil {
		return fmt.Errorf("history: marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, device, axes, started_at, duration_ns, total, passed, failed, skipped, errors, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		suite.RunID, suite.Configuration.Device, strings.Join(suite.Configuration.Axes, ","),
		suite.StartTime.UTC().Format(time.RFC3339Nano), int64(suite.Duration),
		suite.TotalCases, suite.PassedCases, suite.FailedCases, suite.SkippedCases, suite.ErrorCases,
		string(report),
	)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", suite.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO case_results (run_id, seq, axis, case_id, result, duration_ns, error) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare case insert: %w", err)
	}
	defer stmt.Close()

	for i, cr := range suite.CaseResults {
		if _, err := stmt.ExecContext(ctx, suite.RunID, i, cr.Axis, cr.Case.ID, string(cr.Result), int64(cr.Duration), cr.Error); err != nil {
			return fmt.Errorf("history: insert case %s/%s: %w", cr.Axis, cr.Case.ID, err)
		}
	}
	return tx.Commit()
}

// Recent lists up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, axes, started_at, duration_ns, total, passed, failed, skipped, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r       Run
		axes    string
		started string
		dur     int64
	)
	if err := row.Scan(&r.ID, &r.Device, &axes, &started, &dur, &r.Total, &r.Passed, &r.Failed, &r.Skipped, &r.Errors); err != nil {
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	if axes != "" {
		r.Axes = strings.Split(axes, ",")
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("history: run %s start time: %w", r.ID, err)
	}
	r.StartedAt = t
	r.Duration = time.Duration(dur)
	return r, nil
}

// Cases returns the case rows of a run in execution order.
func (s *Store) Cases(ctx context.Context, runID string) ([]CaseRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, axis, case_id, result, duration_ns, error FROM case_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: list cases of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []CaseRow
	for rows.Next() {
		var (
			c      CaseRow
			result string
			dur    int64
		)
		if err := rows.Scan(&c.RunID, &c.Axis, &c.CaseID, &result, &dur, &c.Error); err != nil {
			return nil, fmt.Errorf("history: scan case: %w", err)
		}
		c.Result = harness.Result(result)
		c.Duration = time.Duration(dur)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Report returns the full suite result stored for runID.
func (s *Store) Report(ctx context.Context, runID string) (harness.SuiteResult, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return harness.SuiteResult{}, fmt.Errorf("history: %w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return harness.SuiteResult{}, fmt.Errorf("history: read report %s: %w", runID, err)
	}
	var suite harness.SuiteResult
	if err := json.Unmarshal([]byte(report), &suite); err != nil {
		return harness.SuiteResult{}, fmt.Errorf("history: decode report %s: %w", runID, err)
	}
	return suite, nil
}

// Last returns the newest stored suite result.
func (s *Store) Last(ctx context.Context) (harness.SuiteResult, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return harness.SuiteResult{}, fmt.Errorf("history: %w: no runs recorded", ErrNotFound)
	}
	if err != nil {
		return harness.SuiteResult{}, fmt.Errorf("history: find last run: %w", err)
	}
	return s.Report(ctx, id)
}

// Prune deletes all but the newest keep runs and returns how many went.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	const keepIDs = `SELECT id FROM runs ORDER BY started_at DESC LIMIT ?`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	// foreign_keys is a per connection pragma, so cascading is not relied on
	if _, err := tx.ExecContext(ctx, `DELETE FROM case_results WHERE run_id NOT IN (`+keepIDs+`)`, keep); err != nil {
		return 0, fmt.Errorf("history: prune cases: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN (`+keepIDs+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Recorder is a harness.Reporter that stores the suite result when a run
// completes.
type Recorder struct {
	Store *Store
	// OnError receives storage failures; they never abort a run.
	OnError func(error)
}

func (r *Recorder) ReportStart(harness.Configuration)    {}
func (r *Recorder) ReportCaseStart(string, harness.Case) {}
func (r *Recorder) ReportCaseResult(harness.CaseResult)  {}

func (r *Recorder) ReportSuiteResult(suite harness.SuiteResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Store.Record(ctx, suite); err != nil && r.OnError != nil {
		r.OnError(err)
	}
}
