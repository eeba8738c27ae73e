package scan

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/exp/mmap"

	"github.com/eargollo/sumcheck/internal/store"
)

// worker owns one read buffer and one digest instance for the whole run.
type worker struct {
	r   *run
	buf []byte
	h   hash.Hash
}

func newWorker(r *run, bufSize int) *worker {
	return &worker{r: r, buf: make([]byte, bufSize), h: r.algo.New()}
}

// loop drains q until it is closed or the run is cancelled. Items popped
// after cancellation stay Queued.
func (w *worker) loop(ctx context.Context, q *Queue) {
	for {
		it, ok := q.Pop(ctx)
		if !ok {
			return
		}
		if err := w.r.gate.WaitIfPaused(ctx); err != nil {
			return
		}
		w.process(it)
	}
}

func (w *worker) process(it WorkItem) {
	r := w.r
	r.store.MarkPending(it.Index)

	start := time.Now()
	sum, err := w.hash(it)
	elapsed := time.Since(start)

	var st store.Status
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st = store.Missing
		r.prog.Missing.Add(1)
	case err != nil:
		st = store.Error
		r.prog.Errors.Add(1)
		r.logger.Warn("hash failed", "path", it.Path, "error", err)
	case !r.verify:
		st = store.OK
		r.prog.OK.Add(1)
	default:
		var legacy bool
		st, legacy = compare(r.algo, it.Expected, sum)
		if legacy {
			r.prog.Legacy.Store(true)
		}
		if st == store.OK {
			r.prog.OK.Add(1)
		} else {
			r.prog.Bad.Add(1)
		}
	}
	if st == store.Missing || st == store.Error {
		sum = nil
	}
	r.store.SetResult(it.Index, sum, elapsed, st)
	r.prog.Completed.Add(1)
	r.notify.progress()
}

func (w *worker) hash(it WorkItem) ([]byte, error) {
	info, err := os.Stat(it.Path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", it.Path)
	}

	w.h.Reset()
	size := info.Size()
	switch {
	case size > w.r.cfg.LargeFileBytes:
		err = w.stream(it.Index, it.Path, size)
	case w.r.cfg.Mmap && size > 0:
		err = w.mapped(it.Path)
	default:
		err = w.positional(it.Path, size)
	}
	if err != nil {
		return nil, err
	}
	return w.h.Sum(nil), nil
}

// stream reads a large file sequentially and reports per-file progress.
func (w *worker) stream(index int, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pr := &progressReader{r: f, total: size, index: index, notify: w.r.notify, prog: w.r.prog, last: -1}
	_, err = io.CopyBuffer(w.h, pr, w.buf)
	w.r.notify.fileDone(index)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (w *worker) mapped(path string) error {
	m, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := w.readAt(m, int64(m.Len())); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (w *worker) positional(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := w.readAt(f, size); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// readAt hashes the first size bytes of ra. A file that shrank underneath
// us ends at io.EOF without error.
func (w *worker) readAt(ra io.ReaderAt, size int64) error {
	var off int64
	for off < size {
		n := len(w.buf)
		if rem := size - off; rem < int64(n) {
			n = int(rem)
		}
		k, err := ra.ReadAt(w.buf[:n], off)
		w.h.Write(w.buf[:k])
		off += int64(k)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	w.r.prog.BytesRead.Add(off)
	return nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	index  int
	last   int
	notify *notifier
	prog   *Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.prog.BytesRead.Add(int64(n))
		pct := int(p.read * 100 / p.total)
		if pct != p.last {
			p.last = pct
			p.notify.fileProgress(p.index, pct)
		}
	}
	return n, err
}
