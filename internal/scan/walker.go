package scan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/eargollo/sumcheck/internal/intern"
)

// walkDir is a directory waiting to be read.
type walkDir struct {
	path string // absolute
	rel  string // interned, relative to the walk root; "" for the root itself
}

// dirQueue is the FIFO of directories still to read. Popped slots are
// cleared and the consumed prefix is compacted away once it dominates, so a
// long walk does not keep every visited path reachable.
type dirQueue struct {
	items []walkDir
	head  int // index of the next item to pop; avoids O(n) re-slicing
}

func (q *dirQueue) push(d walkDir) {
	q.items = append(q.items, d)
}

func (q *dirQueue) pop() (walkDir, bool) {
	if q.head >= len(q.items) {
		return walkDir{}, false
	}
	d := q.items[q.head]
	q.items[q.head] = walkDir{}
	q.head++
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return d, true
}

func (q *dirQueue) len() int { return len(q.items) - q.head }

// walkFile is one regular file found by walk. Dir and Name come from the
// pool, so files of one directory share the same Dir string.
type walkFile struct {
	Path string // absolute
	Dir  string // relative to the walk root, "" at the top level
	Name string
}

// Rel is the path relative to the walk root.
func (f walkFile) Rel() string {
	if f.Dir == "" {
		return f.Name
	}
	return f.Dir + string(filepath.Separator) + f.Name
}

// walk visits every regular file below root, one directory at a time in
// breadth-first order. Entries within a directory arrive sorted by name.
// Symlinks and special files are skipped. A directory that cannot be read is
// passed to report and the walk continues. walk stops early and returns the
// first error from visit, or ctx.Err().
func walk(ctx context.Context, root string, recursive bool, pool *intern.Pool, visit func(walkFile) error, report func(path string, err error)) error {
	var q dirQueue
	q.push(walkDir{path: root})

	var buf []byte
	for {
		d, ok := q.pop()
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := os.ReadDir(d.path)
		if err != nil {
			report(d.path, err)
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				if recursive {
					buf = appendRel(buf[:0], d.rel, name)
					q.push(walkDir{path: filepath.Join(d.path, name), rel: pool.InternBytes(buf)})
				}
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			f := walkFile{Path: filepath.Join(d.path, name), Dir: d.rel, Name: pool.Intern(name)}
			if err := visit(f); err != nil {
				return err
			}
		}
	}
}

func appendRel(buf []byte, dir, name string) []byte {
	if dir != "" {
		buf = append(buf, dir...)
		buf = append(buf, filepath.Separator)
	}
	return append(buf, name...)
}
