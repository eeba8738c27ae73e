package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/gate"
	"github.com/eargollo/sumcheck/internal/store"
)

// Final run statuses recorded in history.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Recorder persists run history.
type Recorder interface {
	Begin(ctx context.Context, label string, algo digest.Algorithm, verify bool, startedAt time.Time) (string, error)
	Finish(ctx context.Context, id, status string, sum Summary, runErr error) error
}

// ActiveRun holds live information about the running pass.
type ActiveRun struct {
	ID        string           `json:"id"`
	Label     string           `json:"label"`
	StartedAt time.Time        `json:"started_at"`
	Verify    bool             `json:"verify"`
	Algorithm digest.Algorithm `json:"algorithm"`
}

// Manager enforces a single-active-run invariant on top of an Engine and
// records every run. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	engine *Engine
	rec    Recorder
	logger *slog.Logger

	active *ActiveRun
	done   chan struct{}
	files  fileTracker
}

// NewManager creates a Manager. rec may be nil to skip history.
func NewManager(engine *Engine, rec Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{engine: engine, rec: rec, logger: logger.With("component", "manager")}
}

// Engine returns the wrapped engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Run executes req synchronously. label describes the trigger (cli, job
// name, schedule).
func (m *Manager) Run(ctx context.Context, label string, req Request) (Summary, error) {
	act, err := m.begin(ctx, label, req)
	if err != nil {
		return Summary{}, err
	}
	defer m.end()
	return m.execute(ctx, act, req)
}

// Start launches req asynchronously and returns the ActiveRun snapshot, or
// ErrAlreadyRunning.
func (m *Manager) Start(ctx context.Context, label string, req Request) (*ActiveRun, error) {
	act, err := m.begin(ctx, label, req)
	if err != nil {
		return nil, err
	}
	go func() {
		defer m.end()
		if _, err := m.execute(ctx, act, req); err != nil && !errors.Is(err, gate.ErrCancelled) {
			m.logger.Error("run error", "id", act.ID, "error", err)
		}
	}()
	snap := *act
	return &snap, nil
}

func (m *Manager) begin(ctx context.Context, label string, req Request) (*ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}
	act := &ActiveRun{
		Label:     label,
		StartedAt: time.Now(),
		Verify:    req.Verify(),
		Algorithm: req.algorithm(),
	}
	// Create the history record now so the ID is available immediately.
	if m.rec != nil {
		id, err := m.rec.Begin(ctx, label, act.Algorithm, act.Verify, act.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("create run record: %w", err)
		}
		act.ID = id
	}
	m.active = act
	m.done = make(chan struct{})
	return act, nil
}

func (m *Manager) execute(ctx context.Context, act *ActiveRun, req Request) (Summary, error) {
	m.files.reset()
	req.Sink = Sinks(req.Sink, &m.files)
	sum, err := m.engine.Run(ctx, req)
	sum.RunID = act.ID

	status := StatusCompleted
	switch {
	case errors.Is(err, gate.ErrCancelled):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	}
	if m.rec != nil && act.ID != "" {
		if ferr := m.rec.Finish(context.WithoutCancel(ctx), act.ID, status, sum, err); ferr != nil {
			m.logger.Error("finalise run record", "id", act.ID, "error", ferr)
		}
	}
	return sum, err
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	close(m.done)
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	active := m.active != nil
	m.mu.Unlock()
	if active {
		<-done
	}
}

// Pause pauses the active run.
func (m *Manager) Pause() error {
	if m.Active() == nil {
		return ErrNoActiveRun
	}
	return m.engine.Pause()
}

// Resume resumes the active run.
func (m *Manager) Resume() error {
	if m.Active() == nil {
		return ErrNoActiveRun
	}
	return m.engine.Resume()
}

// Cancel stops the active run. Returns ErrNoActiveRun if idle.
func (m *Manager) Cancel() (*ActiveRun, error) {
	act := m.Active()
	if act == nil {
		return nil, ErrNoActiveRun
	}
	if err := m.engine.Cancel(); err != nil {
		return nil, err
	}
	return act, nil
}

// Active returns a snapshot of the running pass, or nil when idle.
func (m *Manager) Active() *ActiveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// ActiveFiles lists the large files the current run is streaming, with their
// read percentage.
func (m *Manager) ActiveFiles() []FileProgress {
	return m.files.list(m.engine.Store())
}

// Prune drops every row of the last run for which drop returns true and
// reports how many went. It refuses with ErrAlreadyRunning while a run is
// active, since rows are addressed by index.
func (m *Manager) Prune(drop func(store.Entry) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return 0, ErrAlreadyRunning
	}
	return m.engine.Store().RemoveIf(drop), nil
}

// RemoveEntry drops row i of the last run. It reports false when i is out
// of range.
func (m *Manager) RemoveEntry(i int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return false, ErrAlreadyRunning
	}
	return m.engine.Store().RemoveAt(i), nil
}
