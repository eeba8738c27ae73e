package scan

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eargollo/sumcheck/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFiles creates each relative path under root with the given content.
func writeFiles(tb testing.TB, root string, files map[string]string) {
	tb.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir %q: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			tb.Fatalf("write %q: %v", p, err)
		}
	}
}

// newTestEngine returns an engine with small batches and no GC tuning.
func newTestEngine(tb testing.TB, mutate func(*Config)) *Engine {
	tb.Helper()
	cfg := DefaultConfig()
	cfg.GCPercent = 0
	cfg.BatchSize = 1
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg, store.New(nil), nil, discardLogger())
}

// recordingSink captures every event. Hooks run inside the callback, on the
// run's notifier goroutine; a hook that blocks keeps Run from returning.
type recordingSink struct {
	mu           sync.Mutex
	progress     []Snapshot
	discovered   []int
	batchSizes   []int
	filePercents map[int][]int
	filesDone    []int

	onProgress   func(Snapshot)
	onDiscovered func([]int)
}

func (s *recordingSink) OnProgress(p Snapshot) {
	s.mu.Lock()
	s.progress = append(s.progress, p)
	hook := s.onProgress
	s.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (s *recordingSink) OnFileProgress(i, pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filePercents == nil {
		s.filePercents = make(map[int][]int)
	}
	s.filePercents[i] = append(s.filePercents[i], pct)
}

func (s *recordingSink) OnFileDone(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesDone = append(s.filesDone, i)
}

func (s *recordingSink) OnDiscovered(idx []int) {
	s.mu.Lock()
	s.discovered = append(s.discovered, idx...)
	s.batchSizes = append(s.batchSizes, len(idx))
	hook := s.onDiscovered
	s.mu.Unlock()
	if hook != nil {
		hook(idx)
	}
}

func (s *recordingSink) lastProgress() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.progress) == 0 {
		return Snapshot{}
	}
	return s.progress[len(s.progress)-1]
}

func (s *recordingSink) discoveredLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discovered)
}
