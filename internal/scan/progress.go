package scan

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Progress holds live counters updated by the enumerator and the workers.
// All fields are atomic so they can be written from worker goroutines and
// read from the CLI or the HTTP handler without locks.
type Progress struct {
	Discovered atomic.Int64
	Completed  atomic.Int64 // ok + bad + errors + missing
	OK         atomic.Int64
	Bad        atomic.Int64
	Errors     atomic.Int64
	Missing    atomic.Int64
	BytesRead  atomic.Int64
	Legacy     atomic.Bool
	StartedAt  atomic.Int64 // unix nanoseconds
	FinishedAt atomic.Int64 // unix nanoseconds, 0 while running
}

// Snapshot is a consistent-enough copy of Progress for presentation.
type Snapshot struct {
	Discovered int64         `json:"discovered"`
	Completed  int64         `json:"completed"`
	OK         int64         `json:"ok"`
	Bad        int64         `json:"bad"`
	Errors     int64         `json:"errors"`
	Missing    int64         `json:"missing"`
	BytesRead  int64         `json:"bytes_read"`
	Legacy     bool          `json:"legacy"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Percent is completed/discovered in [0, 100].
func (s Snapshot) Percent() float64 {
	if s.Discovered == 0 {
		return 0
	}
	return float64(s.Completed) * 100 / float64(s.Discovered)
}

// Snapshot reads every counter once.
func (p *Progress) Snapshot() Snapshot {
	s := Snapshot{
		Discovered: p.Discovered.Load(),
		Completed:  p.Completed.Load(),
		OK:         p.OK.Load(),
		Bad:        p.Bad.Load(),
		Errors:     p.Errors.Load(),
		Missing:    p.Missing.Load(),
		BytesRead:  p.BytesRead.Load(),
		Legacy:     p.Legacy.Load(),
	}
	if ns := p.StartedAt.Load(); ns != 0 {
		if end := p.FinishedAt.Load(); end != 0 {
			s.Elapsed = time.Duration(end - ns)
		} else {
			s.Elapsed = time.Since(time.Unix(0, ns))
		}
	}
	return s
}

// Sink receives run events. All methods are called from one goroutine per
// run, never from the enumerator or the workers, so a slow sink only delays
// later events. Run does not return before the sink has seen the last one.
type Sink interface {
	OnProgress(Snapshot)
	OnFileProgress(index, percent int)
	OnFileDone(index int)
	OnDiscovered(indices []int)
}

// NopSink ignores every event. Embed it to implement only some methods.
type NopSink struct{}

func (NopSink) OnProgress(Snapshot)     {}
func (NopSink) OnFileProgress(int, int) {}
func (NopSink) OnFileDone(int)          {}
func (NopSink) OnDiscovered([]int)      {}

type multiSink []Sink

// Sinks fans events out to every non-nil sink in order.
func Sinks(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return NopSink{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiSink) OnProgress(s Snapshot) {
	for _, x := range m {
		x.OnProgress(s)
	}
}

func (m multiSink) OnFileProgress(i, pct int) {
	for _, x := range m {
		x.OnFileProgress(i, pct)
	}
}

func (m multiSink) OnFileDone(i int) {
	for _, x := range m {
		x.OnFileDone(i)
	}
}

func (m multiSink) OnDiscovered(idx []int) {
	for _, x := range m {
		x.OnDiscovered(idx)
	}
}

// notifier owns every call into the sink. Workers and the enumerator only
// record events; a single goroutine delivers them, so a slow sink delays later
// events but never the hashing itself.
//
// Progress snapshots are rate limited and handed over through a one-slot
// channel; a snapshot that finds the slot full is dropped. Discovered indices
// and per-file events are buffered and flushed when a batch fills, on every
// BatchInterval tick, and once more on stop.
type notifier struct {
	sink     Sink
	prog     *Progress
	limiter  *rate.Limiter
	batch    int
	interval time.Duration

	snaps chan Snapshot
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	discovered []int
	files      map[int]fileEvent
}

// fileEvent is the latest state of one streamed file. percent is -1 when
// only completion is pending.
type fileEvent struct {
	percent int
	done    bool
}

func startNotifier(cfg Config, sink Sink, prog *Progress) *notifier {
	n := &notifier{
		sink:     sink,
		prog:     prog,
		limiter:  rate.NewLimiter(rate.Every(cfg.ProgressInterval), 1),
		batch:    max(cfg.BatchSize, 1),
		interval: cfg.BatchInterval,
		snaps:    make(chan Snapshot, 1),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		files:    make(map[int]fileEvent),
	}
	go n.loop()
	return n
}

func (n *notifier) loop() {
	defer close(n.done)
	tick := time.NewTicker(n.interval)
	defer tick.Stop()

	sent := make(map[int]int) // last percent delivered per file
	for {
		select {
		case s := <-n.snaps:
			n.sink.OnProgress(s)
		case <-n.wake:
			n.flush(sent)
		case <-tick.C:
			n.flush(sent)
		case <-n.quit:
			n.flush(sent)
			return
		}
	}
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// progress offers a snapshot if the limiter allows one. It never blocks.
func (n *notifier) progress() {
	if !n.limiter.Allow() {
		return
	}
	select {
	case n.snaps <- n.prog.Snapshot():
	default:
	}
}

// discover records a newly stored index. Only the enumerator calls it.
func (n *notifier) discover(i int) {
	n.mu.Lock()
	n.discovered = append(n.discovered, i)
	full := len(n.discovered) >= n.batch
	n.mu.Unlock()
	if full {
		n.signal()
	}
}

func (n *notifier) fileProgress(i, pct int) {
	n.mu.Lock()
	ev := n.files[i]
	ev.percent = pct
	n.files[i] = ev
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) fileDone(i int) {
	n.mu.Lock()
	ev, ok := n.files[i]
	if !ok {
		ev.percent = -1
	}
	ev.done = true
	n.files[i] = ev
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) flush(sent map[int]int) {
	n.mu.Lock()
	disc := n.discovered
	n.discovered = nil
	files := n.files
	if len(files) > 0 {
		n.files = make(map[int]fileEvent)
	}
	n.mu.Unlock()

	for len(disc) > 0 {
		k := min(len(disc), n.batch)
		n.sink.OnDiscovered(disc[:k:k])
		disc = disc[k:]
	}
	if len(files) == 0 {
		return
	}
	idx := make([]int, 0, len(files))
	for i := range files {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	for _, i := range idx {
		ev := files[i]
		if last, ok := sent[i]; ev.percent >= 0 && (!ok || last != ev.percent) {
			n.sink.OnFileProgress(i, ev.percent)
			sent[i] = ev.percent
		}
		if ev.done {
			n.sink.OnFileDone(i)
			delete(sent, i)
		}
	}
}

// stop delivers whatever is still buffered and waits for the loop to exit.
// A pending throttled snapshot is discarded; final follows.
func (n *notifier) stop() {
	close(n.quit)
	<-n.done
}

// final always emits, synchronously. Callers invoke it after stop.
func (n *notifier) final() {
	n.sink.OnProgress(n.prog.Snapshot())
}
