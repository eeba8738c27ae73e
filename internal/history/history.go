// Package history persists one row per engine run.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/scan"
)

// StatusRunning marks a run that has not finished yet.
const StatusRunning = "running"

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Algorithm  string     `json:"algorithm"`
	Verify     bool       `json:"verify"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Discovered int64      `json:"discovered"`
	Completed  int64      `json:"completed"`
	OK         int64      `json:"ok"`
	Bad        int64      `json:"bad"`
	Errors     int64      `json:"errors"`
	Missing    int64      `json:"missing"`
	Bytes      int64      `json:"bytes"`
	Legacy     bool       `json:"legacy"`
	Workers    int        `json:"workers"`
	Sequential bool       `json:"sequential"`
	ElapsedMs  int64      `json:"elapsed_ms"`
	Error      string     `json:"error,omitempty"`
}

// Store reads and writes run history. It implements scan.Recorder.
type Store struct {
	db *sql.DB
}

var _ scan.Recorder = (*Store)(nil)

// New returns a Store over an already migrated database.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Begin inserts a running row and returns its id.
func (s *Store) Begin(ctx context.Context, label string, algo digest.Algorithm, verify bool, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, label, algorithm, verify, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, label, string(algo), verify, StatusRunning, startedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish stores the final status and counters.
func (s *Store) Finish(ctx context.Context, id, status string, sum scan.Summary, runErr error) error {
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status      = ?,
		    finished_at = ?,
		    discovered  = ?,
		    completed   = ?,
		    ok          = ?,
		    bad         = ?,
		    errors      = ?,
		    missing     = ?,
		    bytes       = ?,
		    legacy      = ?,
		    workers     = ?,
		    sequential  = ?,
		    elapsed_ms  = ?,
		    error       = ?
		WHERE id = ?`,
		status, time.Now().Unix(),
		sum.Discovered, sum.Completed, sum.OK, sum.Bad, sum.Errors, sum.Missing,
		sum.Bytes, sum.Legacy, sum.Workers, sum.Sequential, sum.Elapsed.Milliseconds(),
		msg, id)
	if err != nil {
		return fmt.Errorf("finalise run %s: %w", id, err)
	}
	return nil
}

const selectRun = `
	SELECT id, label, algorithm, verify, status, started_at, finished_at,
	       discovered, completed, ok, bad, errors, missing, bytes,
	       legacy, workers, sequential, elapsed_ms, error
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Label, &r.Algorithm, &r.Verify, &r.Status, &started, &finished,
		&r.Discovered, &r.Completed, &r.OK, &r.Bad, &r.Errors, &r.Missing, &r.Bytes,
		&r.Legacy, &r.Workers, &r.Sequential, &r.ElapsedMs, &r.Error)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(started, 0)
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		r.FinishedAt = &t
	}
	return r, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// List returns runs newest first, plus the total row count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Run, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// MarkStaleRunsFailed marks any rows still in 'running' state as 'failed'.
// This should be called once at startup in case a previous process crashed
// mid-run.
func (s *Store) MarkStaleRunsFailed(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, finished_at = ?
		WHERE status = ?`,
		scan.StatusFailed, time.Now().Unix(), StatusRunning)
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale runs as failed", "count", n)
	}
	return nil
}
