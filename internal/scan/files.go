package scan

import (
	"slices"
	"sync"

	"github.com/eargollo/sumcheck/internal/store"
)

// FileProgress is the read position of one large file being streamed.
type FileProgress struct {
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Percent int    `json:"percent"`
}

// fileTracker is a Sink remembering which large files are mid-read.
type fileTracker struct {
	NopSink

	mu    sync.Mutex
	files map[int]int
}

func (t *fileTracker) reset() {
	t.mu.Lock()
	t.files = make(map[int]int)
	t.mu.Unlock()
}

func (t *fileTracker) OnFileProgress(i, pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.files == nil {
		t.files = make(map[int]int)
	}
	t.files[i] = pct
}

func (t *fileTracker) OnFileDone(i int) {
	t.mu.Lock()
	delete(t.files, i)
	t.mu.Unlock()
}

// list returns the tracked files ordered by index, resolving paths in st.
func (t *fileTracker) list(st *store.Store) []FileProgress {
	t.mu.Lock()
	out := make([]FileProgress, 0, len(t.files))
	for i, pct := range t.files {
		out = append(out, FileProgress{Index: i, Percent: pct})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b FileProgress) int { return a.Index - b.Index })
	for k := range out {
		if e, ok := st.Snapshot(out[k].Index); ok {
			out[k].Path = e.FullPath()
		}
	}
	return out
}
