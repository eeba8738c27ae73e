// Package jobs keeps a persistent FIFO of hashing and verification jobs and
// runs them one at a time through the scan manager.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/sumcheck/internal/digest"
)

// Mode says whether a job writes or checks a checksum file.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeVerify Mode = "verify"
)

// Status is the job lifecycle.
type Status string

const (
	Queued     Status = "queued"
	InProgress Status = "in_progress"
	Paused     Status = "paused"
	Done       Status = "done"
	Failed     Status = "error"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrEmpty is returned by Next when no job is queued.
	ErrEmpty = errors.New("no queued jobs")
	// ErrRunning is returned when removing a job that is being processed.
	ErrRunning = errors.New("job is running")
)

// Job is one unit of batch work. For create jobs Inputs are the files and
// directories to hash and OutputPath is the checksum file to write. For
// verify jobs Inputs[0] is the checksum file. Relative inputs resolve
// against RootPath.
type Job struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	RootPath   string           `json:"root_path,omitempty"`
	Inputs     []string         `json:"inputs"`
	Algorithm  digest.Algorithm `json:"algorithm,omitempty"`
	Mode       Mode             `json:"mode"`
	Status     Status           `json:"status"`
	Progress   float64          `json:"progress"`
	OutputPath string           `json:"output_path,omitempty"`
	ElapsedMs  int64            `json:"elapsed_ms"`
	Error      string           `json:"error,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// resolve returns p made absolute against the job root.
func (j *Job) resolve(p string) string {
	if filepath.IsAbs(p) || j.RootPath == "" {
		return p
	}
	return filepath.Join(j.RootPath, p)
}

func (j *Job) validate() error {
	switch j.Mode {
	case ModeCreate:
		if j.OutputPath == "" {
			return errors.New("create job needs an output path")
		}
		if j.Algorithm == "" {
			if a, ok := digest.FromPath(j.OutputPath); ok {
				j.Algorithm = a
			}
		}
		if !j.Algorithm.Valid() {
			return fmt.Errorf("%w: %q", digest.ErrUnknownAlgorithm, j.Algorithm)
		}
	case ModeVerify:
		if j.Algorithm != "" && !j.Algorithm.Valid() {
			return fmt.Errorf("%w: %q", digest.ErrUnknownAlgorithm, j.Algorithm)
		}
	default:
		return fmt.Errorf("unknown job mode %q", j.Mode)
	}
	if len(j.Inputs) == 0 {
		return errors.New("job has no inputs")
	}
	return nil
}

// Queue stores jobs in the jobs table. Order is creation order.
type Queue struct {
	db *sql.DB
}

// NewQueue returns a Queue over an already migrated database.
func NewQueue(db *sql.DB) *Queue { return &Queue{db: db} }

// Enqueue validates j, assigns an id and appends it to the queue.
func (q *Queue) Enqueue(ctx context.Context, j Job) (*Job, error) {
	if err := j.validate(); err != nil {
		return nil, err
	}
	j.ID = uuid.NewString()
	j.Status = Queued
	j.Progress = 0
	j.CreatedAt = time.Now()
	if j.Name == "" {
		j.Name = filepath.Base(j.Inputs[0])
		if j.Mode == ModeCreate {
			j.Name = filepath.Base(j.OutputPath)
		}
	}
	inputs, err := json.Marshal(j.Inputs)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, root_path, inputs, algorithm, mode, status, output_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.RootPath, string(inputs), string(j.Algorithm), string(j.Mode),
		string(j.Status), j.OutputPath, j.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return &j, nil
}

const selectJob = `
	SELECT id, name, root_path, inputs, algorithm, mode, status, progress,
	       output_path, elapsed_ms, error, run_id, created_at, started_at, finished_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                 Job
		inputs            string
		created           int64
		started, finished sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.Name, &j.RootPath, &inputs, &j.Algorithm, &j.Mode, &j.Status,
		&j.Progress, &j.OutputPath, &j.ElapsedMs, &j.Error, &j.RunID, &created, &started, &finished)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputs), &j.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs of job %s: %w", j.ID, err)
	}
	j.CreatedAt = time.Unix(0, created)
	if started.Valid {
		t := time.Unix(0, started.Int64)
		j.StartedAt = &t
	}
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		j.FinishedAt = &t
	}
	return &j, nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// List returns every job in queue order.
func (q *Queue) List(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, selectJob+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// Next returns the oldest queued job, or ErrEmpty.
func (q *Queue) Next(ctx context.Context) (*Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx,
		selectJob+` WHERE status = ? ORDER BY seq LIMIT 1`, string(Queued)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("next job: %w", err)
	}
	return j, nil
}

// Remove deletes a job that is not being processed.
func (q *Queue) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status NOT IN (?, ?)`,
		id, string(InProgress), string(Paused))
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return ErrRunning
}

// SetStatus updates the status alone.
func (q *Queue) SetStatus(ctx context.Context, id string, st Status) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(st), id)
	if err != nil {
		return fmt.Errorf("set job %s status: %w", id, err)
	}
	return nil
}

// SetProgress stores the completion percentage.
func (q *Queue) SetProgress(ctx context.Context, id string, pct float64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET progress = ? WHERE id = ?`, pct, id)
	if err != nil {
		return fmt.Errorf("set job %s progress: %w", id, err)
	}
	return nil
}

func (q *Queue) markStarted(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, progress = 0, error = '' WHERE id = ?`,
		string(InProgress), time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}
	return nil
}

func (q *Queue) markFinished(ctx context.Context, id string, st Status, progress float64, elapsed time.Duration, runID, msg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, progress = ?, elapsed_ms = ?, run_id = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(st), progress, elapsed.Milliseconds(), runID, msg, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	return nil
}

// RequeueInterrupted puts jobs left in progress or paused by a previous
// process back in the queue. Call it once at startup.
func (q *Queue) RequeueInterrupted(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = 0 WHERE status IN (?, ?)`,
		string(Queued), string(InProgress), string(Paused))
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
