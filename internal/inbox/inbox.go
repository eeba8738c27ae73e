// Package inbox watches a drop directory and queues a verify job for every
// checksum file that lands in it.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/jobs"
)

// Submitter accepts jobs. *jobs.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, j jobs.Job) (*jobs.Job, error)
}

// Service watches one directory. A checksum file is queued once no write
// to it has been seen for the debounce interval, so copies in progress are
// not verified half-written.
type Service struct {
	dir      string
	sub      Submitter
	logger   *slog.Logger
	debounce time.Duration

	pending map[string]time.Time // path -> last event; owned by Start
}

// NewService creates a watcher for dir.
func NewService(dir string, sub Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dir:      dir,
		sub:      sub,
		logger:   logger.With("component", "inbox"),
		debounce: 2 * time.Second,
		pending:  make(map[string]time.Time),
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %q: %w", s.dir, err)
	}
	s.logger.Info("inbox watcher starting", "dir", s.dir)

	tick := time.NewTicker(s.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("inbox watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			s.handle(ev, time.Now())

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case now := <-tick.C:
			s.flush(ctx, now)
		}
	}
}

// accepts reports whether name looks like a checksum file.
func accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := digest.FromPath(base)
	return ok
}

func (s *Service) handle(ev fsnotify.Event, now time.Time) {
	if !accepts(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		s.pending[ev.Name] = now
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(s.pending, ev.Name)
	}
}

// flush submits every path that has been quiet for the debounce interval.
func (s *Service) flush(ctx context.Context, now time.Time) {
	for path, last := range s.pending {
		if now.Sub(last) < s.debounce {
			continue
		}
		delete(s.pending, path)
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		j, err := s.sub.Submit(ctx, jobs.Job{Name: "inbox: " + filepath.Base(path), Mode: jobs.ModeVerify, Inputs: []string{path}})
		if err != nil {
			s.logger.Error("queue inbox verify", "path", path, "error", err)
			continue
		}
		s.logger.Info("inbox verify queued", "path", path, "job", j.ID)
	}
}
