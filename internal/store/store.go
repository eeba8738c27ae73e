// Package store holds per-file state for a run as parallel arrays addressed
// by a stable integer index.
//
// Ownership model: Add, RemoveAt, RemoveIf and Clear take the store lock.
// SetResult and MarkPending take no lock; the caller must be the only
// goroutine writing that index. Storage is split into fixed-size chunks that
// never move, so growing the store does not invalidate concurrent per-index
// writes. Result fields are published by an atomic status store, and readers
// only look at the digest once they have observed a terminal status.
package store

import (
	"encoding/hex"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of one entry. It only moves forward:
// Queued -> Pending -> {OK, Bad, Missing, Error}.
type Status uint32

const (
	Queued Status = iota
	Pending
	OK
	Bad
	Missing
	Error
)

var statusNames = [...]string{"queued", "pending", "ok", "bad", "missing", "error"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return 0, false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s >= OK }

// canMove reports whether from -> to is a forward transition.
func canMove(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return to > from
}

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk struct {
	fileName [chunkSize]string
	dir      [chunkSize]string
	baseDir  [chunkSize]string
	origIdx  [chunkSize]int
	summary  [chunkSize]bool
	expected [chunkSize][]byte

	status   [chunkSize]atomic.Uint32
	computed [chunkSize][]byte
	elapsed  [chunkSize]time.Duration
	hexCache [chunkSize]atomic.Pointer[string]
}

// Meta describes a newly discovered entry. FileName, Dir and BaseDirectory
// are expected to come from an intern pool so that rows in the same
// directory share one copy of each string.
type Meta struct {
	FileName      string
	Dir           string // relative to BaseDirectory, "" at the top level
	BaseDirectory string
	Expected      []byte // nil in creation mode
	Summary       bool
}

// Entry is a point-in-time copy of one row.
type Entry struct {
	Index         int
	FileName      string
	Dir           string
	RelativePath  string // Dir joined with FileName
	BaseDirectory string
	OriginalIndex int
	Status        Status
	Expected      []byte
	Computed      []byte
	Elapsed       time.Duration
	Summary       bool
}

// FullPath joins the base directory and the relative path.
func (e Entry) FullPath() string {
	return filepath.Join(e.BaseDirectory, e.RelativePath)
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// ElapsedText renders the hashing time the way list views show it.
func (e Entry) ElapsedText() string {
	if !e.Status.Terminal() || e.Elapsed == 0 {
		return ""
	}
	return e.Elapsed.Round(time.Millisecond).String()
}

// Counts tallies entries per status.
type Counts struct {
	Queued, Pending, OK, Bad, Missing, Error int
}

// Total is the number of counted entries.
func (c Counts) Total() int {
	return c.Queued + c.Pending + c.OK + c.Bad + c.Missing + c.Error
}

// Store is the result container. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	chunks   []*chunk                 // guarded by mu
	dir      atomic.Pointer[[]*chunk] // lock-free view for SetResult
	count    int                      // guarded by mu
	nextOrig int                      // guarded by mu
	format   func([]byte) string
}

// New returns an empty store. format renders digests for DigestHex; nil
// means lower-case hex.
func New(format func([]byte) string) *Store {
	if format == nil {
		format = hex.EncodeToString
	}
	s := &Store{format: format}
	s.publish()
	return s
}

func (s *Store) publish() {
	view := s.chunks
	s.dir.Store(&view)
}

// SetFormat replaces the digest formatter. Call it between runs.
func (s *Store) SetFormat(format func([]byte) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if format == nil {
		format = hex.EncodeToString
	}
	s.format = format
	for i := 0; i < s.count; i++ {
		s.chunks[i>>chunkBits].hexCache[i&chunkMask].Store(nil)
	}
}

// Format renders d with the current digest formatter.
func (s *Store) Format(d []byte) string {
	if d == nil {
		return ""
	}
	s.mu.RLock()
	f := s.format
	s.mu.RUnlock()
	return f(d)
}

// Add appends an entry in the Queued state and returns its index.
func (s *Store) Add(m Meta) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.count
	if i>>chunkBits >= len(s.chunks) {
		// append doubles the chunk directory's capacity when it is full.
		s.chunks = append(s.chunks, new(chunk))
		s.publish()
	}
	c, j := s.chunks[i>>chunkBits], i&chunkMask
	c.fileName[j] = m.FileName
	c.dir[j] = m.Dir
	c.baseDir[j] = m.BaseDirectory
	c.origIdx[j] = s.nextOrig
	c.summary[j] = m.Summary
	c.expected[j] = m.Expected
	c.computed[j] = nil
	c.elapsed[j] = 0
	c.hexCache[j].Store(nil)
	c.status[j].Store(uint32(Queued))

	s.nextOrig++
	s.count++
	return i
}

func (s *Store) slot(i int) (*chunk, int) {
	dir := *s.dir.Load()
	return dir[i>>chunkBits], i & chunkMask
}

// MarkPending moves a Queued entry to Pending. It reports false if the entry
// had already moved on.
func (s *Store) MarkPending(i int) bool {
	c, j := s.slot(i)
	return c.status[j].CompareAndSwap(uint32(Queued), uint32(Pending))
}

// SetResult records the outcome for index i. The caller must own i. It
// returns false, leaving the entry untouched, if the move would not be
// forward.
func (s *Store) SetResult(i int, digest []byte, elapsed time.Duration, st Status) bool {
	c, j := s.slot(i)
	if !canMove(Status(c.status[j].Load()), st) {
		return false
	}
	c.computed[j] = digest
	c.elapsed[j] = elapsed
	c.hexCache[j].Store(nil)
	c.status[j].Store(uint32(st))
	return true
}

// Status returns the current status of i.
func (s *Store) Status(i int) Status {
	c, j := s.slot(i)
	return Status(c.status[j].Load())
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Snapshot returns a copy of row i. Computed and Elapsed are only filled once the
// entry is terminal.
func (s *Store) Snapshot(i int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= s.count {
		return Entry{}, false
	}
	return s.snapshot(i), true
}

func (s *Store) snapshot(i int) Entry {
	c, j := s.chunks[i>>chunkBits], i&chunkMask
	e := Entry{
		Index:         i,
		FileName:      c.fileName[j],
		Dir:           c.dir[j],
		RelativePath:  joinRel(c.dir[j], c.fileName[j]),
		BaseDirectory: c.baseDir[j],
		OriginalIndex: c.origIdx[j],
		Expected:      c.expected[j],
		Summary:       c.summary[j],
	}
	e.Status = Status(c.status[j].Load())
	if e.Status.Terminal() {
		e.Computed = c.computed[j]
		e.Elapsed = c.elapsed[j]
	}
	return e
}

// FullPath reconstructs the absolute path of i.
func (s *Store) FullPath(i int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, j := s.chunks[i>>chunkBits], i&chunkMask
	return filepath.Join(c.baseDir[j], c.dir[j], c.fileName[j])
}

// DigestHex returns the formatted computed digest of i, or "" while it is
// not terminal. The string is cached until the next SetResult.
func (s *Store) DigestHex(i int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= s.count {
		return ""
	}
	c, j := s.chunks[i>>chunkBits], i&chunkMask
	if !Status(c.status[j].Load()).Terminal() {
		return ""
	}
	if p := c.hexCache[j].Load(); p != nil {
		return *p
	}
	d := c.computed[j]
	if d == nil {
		return ""
	}
	h := s.format(d)
	c.hexCache[j].CompareAndSwap(nil, &h)
	return h
}

// Each calls fn for every row in index order until fn returns false.
func (s *Store) Each(fn func(Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < s.count; i++ {
		if !fn(s.snapshot(i)) {
			return
		}
	}
}

// Counts tallies entries by status.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for i := 0; i < s.count; i++ {
		ch, j := s.chunks[i>>chunkBits], i&chunkMask
		if ch.summary[j] {
			continue
		}
		switch Status(ch.status[j].Load()) {
		case Queued:
			c.Queued++
		case Pending:
			c.Pending++
		case OK:
			c.OK++
		case Bad:
			c.Bad++
		case Missing:
			c.Missing++
		case Error:
			c.Error++
		}
	}
	return c
}

// move copies row src onto row dst. Caller holds mu and no worker is active.
func (s *Store) move(dst, src int) {
	dc, dj := s.chunks[dst>>chunkBits], dst&chunkMask
	sc, sj := s.chunks[src>>chunkBits], src&chunkMask
	dc.fileName[dj] = sc.fileName[sj]
	dc.dir[dj] = sc.dir[sj]
	dc.baseDir[dj] = sc.baseDir[sj]
	dc.origIdx[dj] = sc.origIdx[sj]
	dc.summary[dj] = sc.summary[sj]
	dc.expected[dj] = sc.expected[sj]
	dc.computed[dj] = sc.computed[sj]
	dc.elapsed[dj] = sc.elapsed[sj]
	dc.hexCache[dj].Store(sc.hexCache[sj].Load())
	dc.status[dj].Store(sc.status[sj].Load())
}

func (s *Store) zero(i int) {
	c, j := s.chunks[i>>chunkBits], i&chunkMask
	c.fileName[j], c.dir[j], c.baseDir[j] = "", "", ""
	c.expected[j], c.computed[j] = nil, nil
	c.summary[j] = false
	c.elapsed[j] = 0
	c.origIdx[j] = 0
	c.hexCache[j].Store(nil)
	c.status[j].Store(uint32(Queued))
}

// RemoveAt deletes row i, shifting later rows down by one. It must not run
// while workers are writing results.
func (s *Store) RemoveAt(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.count {
		return false
	}
	for k := i; k < s.count-1; k++ {
		s.move(k, k+1)
	}
	s.count--
	s.zero(s.count)
	return true
}

// RemoveIf deletes every row for which drop returns true in one compaction
// pass and returns how many were removed. Prefer it to repeated RemoveAt.
func (s *Store) RemoveIf(drop func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := 0
	for r := 0; r < s.count; r++ {
		if drop(s.snapshot(r)) {
			continue
		}
		if w != r {
			s.move(w, r)
		}
		w++
	}
	removed := s.count - w
	for k := w; k < s.count; k++ {
		s.zero(k)
	}
	s.count = w
	return removed
}

// Clear drops every row and releases the chunk memory.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.count = 0
	s.nextOrig = 0
	s.publish()
}
