package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/gate"
	"github.com/eargollo/sumcheck/internal/intern"
	"github.com/eargollo/sumcheck/internal/store"
	"github.com/eargollo/sumcheck/internal/topology"
)

// ErrAlreadyRunning is returned when a run is started while one is in progress.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// ErrNoActiveRun is returned by control calls when nothing is running.
var ErrNoActiveRun = errors.New("no run is currently active")

// State is the engine lifecycle.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Engine runs one hashing or verification pass at a time over a shared
// result store. It is safe for concurrent use; control methods may be called
// from any goroutine while Run is in progress.
type Engine struct {
	cfg    Config
	store  *store.Store
	pool   *intern.Pool
	prober topology.Prober
	logger *slog.Logger

	mu    sync.Mutex
	state State
	gate  *gate.Gate

	progress atomic.Pointer[Progress]
}

// NewEngine creates an Engine writing into st. prober may be nil, in which
// case Auto mode always picks sequential reads.
func NewEngine(cfg Config, st *store.Store, prober topology.Prober, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg.withDefaults(),
		store:  st,
		pool:   intern.New(),
		prober: prober,
		logger: logger.With("component", "scan"),
	}
	e.progress.Store(&Progress{})
	return e
}

// Store returns the result store the engine writes into.
func (e *Engine) Store() *store.Store { return e.store }

// run carries the per-run state shared by the enumerator and the workers.
type run struct {
	cfg    Config
	store  *store.Store
	pool   *intern.Pool
	gate   *gate.Gate
	logger *slog.Logger
	algo   digest.Algorithm
	verify bool
	prog   *Progress
	notify *notifier
}

// Run executes req to completion, cancellation or startup failure. The store
// is cleared first. On cancellation the partial summary is returned together
// with gate.ErrCancelled; results already written stay in the store.
func (e *Engine) Run(ctx context.Context, req Request) (Summary, error) {
	algo := req.algorithm()
	if !algo.Valid() {
		return Summary{}, fmt.Errorf("%w: %q", digest.ErrUnknownAlgorithm, algo)
	}
	if !req.Verify() && len(req.Inputs) == 0 {
		return Summary{}, ErrNoInputs
	}

	g := gate.New()
	prog := &Progress{}
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	e.state = Running
	e.gate = g
	e.progress.Store(prog)
	e.mu.Unlock()

	start := time.Now()
	prog.StartedAt.Store(start.UnixNano())
	e.store.Clear()
	e.store.SetFormat(algo.Hex)
	e.pool.Clear()

	pol := Decide(req.Mode, e.prober, req.probePath())
	e.logger.Info("run started",
		"verify", req.Verify(), "algorithm", algo,
		"workers", pol.Workers, "buffer", pol.BufferSize, "reason", pol.Reason)

	if e.cfg.GCPercent > 0 {
		old := debug.SetGCPercent(e.cfg.GCPercent)
		defer debug.SetGCPercent(old)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-g.Done():
			cancelRun()
		case <-runCtx.Done():
			g.Cancel()
		}
	}()

	sink := req.Sink
	if sink == nil {
		sink = NopSink{}
	}
	r := &run{
		cfg:    e.cfg,
		store:  e.store,
		pool:   e.pool,
		gate:   g,
		logger: e.logger,
		algo:   algo,
		verify: req.Verify(),
		prog:   prog,
		notify: startNotifier(e.cfg, sink, prog),
	}

	q := NewQueue(e.cfg.QueueCapacity)
	var wg sync.WaitGroup
	for i := 0; i < pol.Workers; i++ {
		w := newWorker(r, pol.BufferSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(runCtx, q)
		}()
	}

	enumErr := r.enumerate(runCtx, q, req)
	q.Close()
	wg.Wait()
	prog.FinishedAt.Store(time.Now().UnixNano())
	r.notify.stop()
	r.notify.final()

	cancelled := g.Cancelled() || ctx.Err() != nil
	snap := prog.Snapshot()
	sum := Summary{
		Algorithm:  algo,
		Discovered: snap.Discovered,
		Completed:  snap.Completed,
		OK:         snap.OK,
		Bad:        snap.Bad,
		Errors:     snap.Errors,
		Missing:    snap.Missing,
		Bytes:      snap.BytesRead,
		Legacy:     snap.Legacy,
		Workers:    pol.Workers,
		Sequential: pol.Sequential,
		Elapsed:    snap.Elapsed,
	}

	final := Completed
	if cancelled {
		final = Cancelled
	}
	e.mu.Lock()
	e.state = final
	e.mu.Unlock()

	e.logger.Info("run finished", "state", final,
		"completed", sum.Completed, "ok", sum.OK, "bad", sum.Bad,
		"errors", sum.Errors, "missing", sum.Missing, "elapsed", sum.Elapsed)

	if cancelled {
		return sum, gate.ErrCancelled
	}
	if enumErr != nil {
		return sum, fmt.Errorf("enumerate: %w", enumErr)
	}
	return sum, nil
}

func (e *Engine) activeGate() (*gate.Gate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return nil, ErrNoActiveRun
	}
	return e.gate, nil
}

// Pause halts the enumerator and the workers at their next checkpoint. A file
// already being hashed finishes first.
func (e *Engine) Pause() error {
	g, err := e.activeGate()
	if err != nil {
		return err
	}
	g.Pause()
	return nil
}

// Resume continues a paused run.
func (e *Engine) Resume() error {
	g, err := e.activeGate()
	if err != nil {
		return err
	}
	g.Resume()
	return nil
}

// Cancel stops the current run. Run returns once in-flight files finish.
func (e *Engine) Cancel() error {
	g, err := e.activeGate()
	if err != nil {
		return err
	}
	g.Cancel()
	return nil
}

// Paused reports whether the active run is paused.
func (e *Engine) Paused() bool {
	g, err := e.activeGate()
	return err == nil && g.Paused()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Progress snapshots the counters of the current or most recent run.
func (e *Engine) Progress() Snapshot {
	return e.progress.Load().Snapshot()
}
