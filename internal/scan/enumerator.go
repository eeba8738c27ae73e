package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/eargollo/sumcheck/internal/store"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

// enumerate is the single producer. It fills the store, feeds q and reports
// discovered indices to the notifier. The caller closes q afterwards.
func (r *run) enumerate(ctx context.Context, q *Queue, req Request) error {
	if req.Sums != nil {
		return r.enumerateSums(ctx, q, req.SumPath, req.Sums)
	}
	for _, in := range req.Inputs {
		if err := r.enumerateInput(ctx, q, in); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) enumerateInput(ctx context.Context, q *Queue, input string) error {
	abs, err := filepath.Abs(input)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", input, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		r.logger.Warn("input not accessible", "path", abs, "error", err)
		return nil
	}

	if !info.IsDir() {
		m := store.Meta{
			FileName:      r.pool.Intern(filepath.Base(abs)),
			BaseDirectory: r.pool.Intern(filepath.Dir(abs)),
		}
		return r.submit(ctx, q, m, abs, nil)
	}

	base := r.pool.Intern(abs)
	filtered := !r.cfg.Filter.Empty()
	return walk(ctx, abs, r.cfg.Recursive, r.pool,
		func(f walkFile) error {
			if filtered && !r.cfg.Filter.Match(f.Rel()) {
				return nil
			}
			m := store.Meta{
				FileName:      f.Name,
				Dir:           f.Dir,
				BaseDirectory: base,
			}
			return r.submit(ctx, q, m, f.Path, nil)
		},
		func(path string, err error) {
			r.logger.Warn("cannot read directory", "path", path, "error", err)
		})
}

// enumerateSums queues every entry of a checksum file. Files that no longer
// exist are resolved to Missing here and never reach a worker.
func (r *run) enumerateSums(ctx context.Context, q *Queue, sumPath string, f *sumfile.File) error {
	abs, err := filepath.Abs(sumPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", sumPath, err)
	}
	for _, le := range f.Invalid {
		r.logger.Warn("skipping malformed line", "file", abs, "line", le.Line, "text", le.Text)
	}
	base := r.pool.Intern(filepath.Dir(abs))

	var buf []byte
	for _, e := range f.Entries {
		dir, name := filepath.Split(filepath.Clean(e.Path))
		dir = filepath.Clean(dir)
		if dir == "." {
			dir = ""
		}
		// Copy through buf so the pool never pins the entry's path string.
		buf = append(buf[:0], dir...)
		m := store.Meta{
			Dir:           r.pool.InternBytes(buf),
			BaseDirectory: base,
			Expected:      e.Digest,
		}
		buf = append(buf[:0], name...)
		m.FileName = r.pool.InternBytes(buf)
		if filepath.IsAbs(e.Path) {
			m.BaseDirectory = ""
		}
		full := sumfile.Resolve(abs, e)

		if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
			if err := r.gate.WaitIfPaused(ctx); err != nil {
				return err
			}
			i := r.store.Add(m)
			r.prog.Discovered.Add(1)
			r.notify.discover(i)
			r.store.SetResult(i, nil, 0, store.Missing)
			r.prog.Missing.Add(1)
			r.prog.Completed.Add(1)
			r.notify.progress()
			continue
		}
		if err := r.submit(ctx, q, m, full, e.Digest); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) submit(ctx context.Context, q *Queue, m store.Meta, full string, expected []byte) error {
	if err := r.gate.WaitIfPaused(ctx); err != nil {
		return err
	}
	i := r.store.Add(m)
	r.prog.Discovered.Add(1)
	r.notify.discover(i)
	return q.Push(ctx, WorkItem{Index: i, Path: full, Expected: expected})
}
