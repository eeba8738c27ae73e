package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eargollo/sumcheck/internal/gate"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

// progressEvery is the minimum gap between two progress writes for a job.
const progressEvery = time.Second

// Runner drains the queue one job at a time. The scan manager's single
// active run rule means a job never overlaps a CLI or API run.
type Runner struct {
	q      *Queue
	mgr    *scan.Manager
	mode   scan.Mode
	logger *slog.Logger
	sink   scan.Sink
	wake   chan struct{}

	mu      sync.Mutex
	current string
}

// NewRunner creates a Runner. mode is the I/O mode used for every job.
func NewRunner(q *Queue, mgr *scan.Manager, mode scan.Mode, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		q:      q,
		mgr:    mgr,
		mode:   mode,
		logger: logger.With("component", "jobs"),
		wake:   make(chan struct{}, 1),
	}
}

// SetSink adds a sink that receives the events of every job run, such as a
// console progress bar. Call it before the runner starts.
func (r *Runner) SetSink(s scan.Sink) { r.sink = s }

// Queue returns the underlying queue.
func (r *Runner) Queue() *Queue { return r.q }

// Submit enqueues j and wakes Loop.
func (r *Runner) Submit(ctx context.Context, j Job) (*Job, error) {
	out, err := r.q.Enqueue(ctx, j)
	if err != nil {
		return nil, err
	}
	r.logger.Info("job queued", "id", out.ID, "name", out.Name, "mode", out.Mode)
	r.Notify()
	return out, nil
}

// Notify wakes Loop without blocking.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Current returns the id of the job being processed, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Runner) setCurrent(id string) {
	r.mu.Lock()
	r.current = id
	r.mu.Unlock()
}

// Pause pauses the running job.
func (r *Runner) Pause(ctx context.Context) error {
	id := r.Current()
	if id == "" {
		return scan.ErrNoActiveRun
	}
	if err := r.mgr.Pause(); err != nil {
		return err
	}
	return r.q.SetStatus(ctx, id, Paused)
}

// Resume continues a paused job.
func (r *Runner) Resume(ctx context.Context) error {
	id := r.Current()
	if id == "" {
		return scan.ErrNoActiveRun
	}
	if err := r.mgr.Resume(); err != nil {
		return err
	}
	return r.q.SetStatus(ctx, id, InProgress)
}

// Loop runs queued jobs until ctx ends, waking on Notify.
func (r *Runner) Loop(ctx context.Context) error {
	for {
		if _, err := r.RunPending(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("job loop", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
		}
	}
}

// RunPending processes queued jobs in FIFO order until the queue is empty or
// ctx ends, and returns how many jobs it finished. A job interrupted by ctx
// goes back to the queue.
func (r *Runner) RunPending(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		j, err := r.q.Next(ctx)
		if errors.Is(err, ErrEmpty) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := r.runJob(ctx, j); err != nil {
			return n, err
		}
		n++
	}
}

// runJob returns an error only for failures of the queue itself or shutdown.
// Job failures are stored on the job.
func (r *Runner) runJob(ctx context.Context, j *Job) error {
	if err := r.q.markStarted(ctx, j.ID); err != nil {
		return err
	}
	r.setCurrent(j.ID)
	defer r.setCurrent("")
	log := r.logger.With("job", j.ID, "name", j.Name)
	log.Info("job started", "mode", j.Mode)

	// Persisting must survive ctx so shutdown can requeue.
	dbctx := context.WithoutCancel(ctx)
	start := time.Now()

	req, err := r.request(j)
	if err != nil {
		log.Warn("job failed", "error", err)
		return r.q.markFinished(dbctx, j.ID, Failed, 0, time.Since(start), "", err.Error())
	}
	js := &jobSink{q: r.q, id: j.ID, limit: rate.NewLimiter(rate.Every(progressEvery), 1), logger: log}
	req.Sink = js
	if r.sink != nil {
		req.Sink = scan.Sinks(js, r.sink)
	}

	sum, err := r.mgr.Run(ctx, "job:"+j.Name, req)
	elapsed := time.Since(start)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("job interrupted, requeued")
		if qerr := r.q.SetStatus(dbctx, j.ID, Queued); qerr != nil {
			return qerr
		}
		return ctx.Err()
	case errors.Is(err, gate.ErrCancelled):
		log.Info("job cancelled")
		return r.q.markFinished(dbctx, j.ID, Failed, js.last(), elapsed, sum.RunID, "cancelled")
	case err != nil:
		log.Warn("job failed", "error", err)
		return r.q.markFinished(dbctx, j.ID, Failed, js.last(), elapsed, sum.RunID, err.Error())
	}

	if j.Mode == ModeCreate {
		out := scan.SumFile(r.mgr.Engine().Store(), req.Algorithm, j.resolve(j.OutputPath))
		if err := sumfile.Save(j.resolve(j.OutputPath), out); err != nil {
			log.Warn("job failed", "error", err)
			return r.q.markFinished(dbctx, j.ID, Failed, 100, elapsed, sum.RunID, err.Error())
		}
	}

	status, msg := Done, ""
	if !sum.Clean() {
		status, msg = Failed, problems(sum)
	}
	log.Info("job finished", "status", status, "ok", sum.OK, "elapsed", elapsed)
	return r.q.markFinished(dbctx, j.ID, status, 100, elapsed, sum.RunID, msg)
}

// request expands the job into an engine request. Inputs are only checked
// here, so a job can be queued before its files exist.
func (r *Runner) request(j *Job) (scan.Request, error) {
	switch j.Mode {
	case ModeVerify:
		path := j.resolve(j.Inputs[0])
		sf, err := sumfile.Load(path, j.Algorithm)
		if err != nil {
			return scan.Request{}, err
		}
		return scan.Request{Sums: sf, SumPath: path, Algorithm: j.Algorithm, Mode: r.mode}, nil
	default:
		inputs := make([]string, 0, len(j.Inputs))
		for _, in := range j.Inputs {
			p := j.resolve(in)
			if _, err := os.Stat(p); err != nil {
				return scan.Request{}, fmt.Errorf("input: %w", err)
			}
			inputs = append(inputs, p)
		}
		return scan.Request{Inputs: inputs, Algorithm: j.Algorithm, Mode: r.mode}, nil
	}
}

func problems(s scan.Summary) string {
	return fmt.Sprintf("%d bad, %d missing, %d unreadable", s.Bad, s.Missing, s.Errors)
}

// jobSink stores the job percentage at most once per progressEvery.
type jobSink struct {
	scan.NopSink
	q      *Queue
	id     string
	limit  *rate.Limiter
	logger *slog.Logger

	mu  sync.Mutex
	pct float64
}

func (s *jobSink) OnProgress(p scan.Snapshot) {
	s.mu.Lock()
	s.pct = p.Percent()
	s.mu.Unlock()
	if !s.limit.Allow() {
		return
	}
	if err := s.q.SetProgress(context.Background(), s.id, p.Percent()); err != nil {
		s.logger.Warn("store job progress", "error", err)
	}
}

func (s *jobSink) last() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pct
}
