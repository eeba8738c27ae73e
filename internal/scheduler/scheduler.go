// Package scheduler fires periodic verification of configured checksum files.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/sumcheck/internal/jobs"
)

// Submitter accepts jobs. *jobs.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, j jobs.Job) (*jobs.Job, error)
}

// Scheduler wraps robfig/cron and tracks the next scheduled verification.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	logger   *slog.Logger
}

// New creates a stopped Scheduler. Call Start to activate it.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		c:      cron.New(),
		logger: logger.With("component", "scheduler"),
	}
}

// SetJob replaces the current cron job with the given expression and callback.
// If the scheduler is already running, the new job takes effect immediately.
func (s *Scheduler) SetJob(expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	s.logger.Info("job set", "cron", expr)
	return nil
}

// ScheduleVerify queues one verify job per checksum file every time expr
// fires.
func (s *Scheduler) ScheduleVerify(expr string, files []string, sub Submitter) error {
	list := append([]string(nil), files...)
	return s.SetJob(expr, func() { s.verifyAll(context.Background(), list, sub) })
}

func (s *Scheduler) verifyAll(ctx context.Context, files []string, sub Submitter) {
	for _, f := range files {
		j, err := sub.Submit(ctx, jobs.Job{Name: "scheduled: " + f, Mode: jobs.ModeVerify, Inputs: []string{f}})
		if err != nil {
			s.logger.Error("queue scheduled verify", "path", f, "error", err)
			continue
		}
		s.logger.Info("scheduled verify queued", "path", f, "job", j.ID)
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for a running callback to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled time, or nil if no job is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
