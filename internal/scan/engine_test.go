package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/filter"
	"github.com/eargollo/sumcheck/internal/gate"
	"github.com/eargollo/sumcheck/internal/store"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

var sampleTree = map[string]string{
	"a.txt":           "alpha",
	"b.bin":           "bravo bravo",
	"empty":           "",
	"sub/c.txt":       "charlie",
	"sub/deep/d.dat":  strings.Repeat("delta", 1000),
	"other/e.log":     "echo",
	"other/f.txt.bak": "foxtrot",
}

// createSums hashes root and writes the checksum file to out.
func createSums(t *testing.T, e *Engine, algo digest.Algorithm, root, out string) Summary {
	t.Helper()
	sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: algo, Mode: Parallel})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := sumfile.Save(out, SumFile(e.Store(), algo, out)); err != nil {
		t.Fatalf("save: %v", err)
	}
	return sum
}

func verifySums(t *testing.T, e *Engine, path string, mode Mode) Summary {
	t.Helper()
	f, err := sumfile.Load(path, "")
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	sum, err := e.Run(context.Background(), Request{Sums: f, SumPath: path, Mode: mode})
	if err != nil {
		t.Fatalf("verify run: %v", err)
	}
	return sum
}

func TestCreateThenVerifyRoundTrip(t *testing.T) {
	for _, algo := range digest.All() {
		t.Run(string(algo), func(t *testing.T) {
			root := t.TempDir()
			writeFiles(t, root, sampleTree)
			out := filepath.Join(root, "sums"+algo.Ext())
			e := newTestEngine(t, nil)

			created := createSums(t, e, algo, root, out)
			if created.OK != int64(len(sampleTree)) || !created.Clean() {
				t.Fatalf("create summary = %+v", created)
			}

			got := verifySums(t, e, out, Sequential)
			if got.Completed != int64(len(sampleTree)) || got.OK != got.Completed || !got.Clean() {
				t.Errorf("verify summary = %+v", got)
			}
			if got.Legacy {
				t.Error("legacy flag raised on a freshly written file")
			}
		})
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleTree)
	out := filepath.Join(root, "sums.md5")
	e := newTestEngine(t, nil)
	createSums(t, e, digest.MD5, root, out)

	first := verifySums(t, e, out, Parallel)
	second := verifySums(t, e, out, Sequential)
	first.Elapsed, second.Elapsed = 0, 0
	first.Workers, second.Workers = 0, 0
	first.Sequential, second.Sequential = false, false
	if first != second {
		t.Errorf("summaries differ:\n%+v\n%+v", first, second)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleTree)
	out := filepath.Join(root, "sums.sha1")
	e := newTestEngine(t, nil)
	createSums(t, e, digest.SHA1, root, out)

	writeFiles(t, root, map[string]string{"sub/c.txt": "tampered"})
	got := verifySums(t, e, out, Parallel)
	if got.Bad != 1 || got.OK != int64(len(sampleTree)-1) {
		t.Errorf("summary = %+v", got)
	}
	var bad []string
	e.Store().Each(func(en store.Entry) bool {
		if en.Status == store.Bad {
			bad = append(bad, filepath.ToSlash(en.RelativePath))
		}
		return true
	})
	if len(bad) != 1 || bad[0] != "sub/c.txt" {
		t.Errorf("bad entries = %v", bad)
	}
}

func TestVerifyThreeFilesOneMissing(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "first", "b.txt": "second"})
	line := func(content, name string) string {
		return hex.EncodeToString(digest.SHA256.Sum([]byte(content))) + " *" + name + "\n"
	}
	sumPath := filepath.Join(dir, "set.sha256")
	writeFiles(t, dir, map[string]string{
		"set.sha256": line("first", "a.txt") + line("second", "b.txt") + line("third", "c.txt"),
	})

	e := newTestEngine(t, nil)
	got := verifySums(t, e, sumPath, Auto)
	if got.Completed != 3 || got.OK != 2 || got.Errors != 0 || got.Missing != 1 || got.Bad != 0 {
		t.Errorf("summary = %+v", got)
	}

	want := map[string]store.Status{"a.txt": store.OK, "b.txt": store.OK, "c.txt": store.Missing}
	e.Store().Each(func(en store.Entry) bool {
		if want[en.RelativePath] != en.Status {
			t.Errorf("%s = %v, want %v", en.RelativePath, en.Status, want[en.RelativePath])
		}
		return true
	})
}

func TestVerifyCRC32ReversedBytesIsLegacyOK(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"file.bin": "legacy payload"})
	rev := reversedCopy(digest.CRC32.Sum([]byte("legacy payload")))
	sfv := "; written by an old tool\nfile.bin " + strings.ToUpper(hex.EncodeToString(rev)) + "\n"
	writeFiles(t, dir, map[string]string{"old.sfv": sfv})

	e := newTestEngine(t, nil)
	got := verifySums(t, e, filepath.Join(dir, "old.sfv"), Sequential)
	if got.OK != 1 || !got.Legacy {
		t.Errorf("summary = %+v, want OK with legacy flag", got)
	}
}

func TestVerifyMD5ReversedBytesIsBad(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"file.bin": "payload"})
	rev := reversedCopy(digest.MD5.Sum([]byte("payload")))
	writeFiles(t, dir, map[string]string{"x.md5": hex.EncodeToString(rev) + " *file.bin\n"})

	e := newTestEngine(t, nil)
	got := verifySums(t, e, filepath.Join(dir, "x.md5"), Sequential)
	if got.Bad != 1 || got.Legacy {
		t.Errorf("summary = %+v", got)
	}
}

func TestReadPathsAgree(t *testing.T) {
	root := t.TempDir()
	payload := strings.Repeat("0123456789abcdef", 4096)
	writeFiles(t, root, map[string]string{"f.bin": payload})
	want := hex.EncodeToString(digest.SHA256.Sum([]byte(payload)))

	variants := map[string]func(*Config){
		"mmap":      func(c *Config) { c.Mmap = true },
		"readat":    func(c *Config) { c.Mmap = false },
		"streaming": func(c *Config) { c.LargeFileBytes = 1024 },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t, mutate)
			sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.SHA256})
			if err != nil {
				t.Fatal(err)
			}
			if sum.Bytes != int64(len(payload)) {
				t.Errorf("Bytes = %d", sum.Bytes)
			}
			if got := e.Store().DigestHex(0); got != want {
				t.Errorf("digest = %s, want %s", got, want)
			}
		})
	}
}

func TestLargeFileReportsPerFileProgress(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"big.bin": strings.Repeat("x", 10_000), "small.bin": "y"})
	e := newTestEngine(t, func(c *Config) { c.LargeFileBytes = 100 })
	sink := &recordingSink{}

	if _, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.XXH3, Sink: sink}); err != nil {
		t.Fatal(err)
	}
	// big.bin sorts first.
	pcts := sink.filePercents[0]
	if len(pcts) == 0 || pcts[len(pcts)-1] != 100 {
		t.Errorf("percent updates for the large file = %v", pcts)
	}
	if _, ok := sink.filePercents[1]; ok {
		t.Error("small file should not report per-file progress")
	}
	if len(sink.filesDone) != 1 || sink.filesDone[0] != 0 {
		t.Errorf("OnFileDone calls = %v", sink.filesDone)
	}
}

func TestFinalProgressAndDiscoveryBatches(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 25; i++ {
		files[fmt.Sprintf("f%02d", i)] = fmt.Sprint(i)
	}
	writeFiles(t, root, files)
	e := newTestEngine(t, func(c *Config) { c.BatchSize = 10; c.ProgressInterval = time.Hour })
	sink := &recordingSink{}

	if _, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.CRC32, Sink: sink}); err != nil {
		t.Fatal(err)
	}
	if len(sink.discovered) != 25 {
		t.Errorf("discovered %d indices", len(sink.discovered))
	}
	for i, idx := range sink.discovered {
		if idx != i {
			t.Fatalf("discovered[%d] = %d", i, idx)
		}
	}
	last := sink.lastProgress()
	if last.Completed != 25 || last.OK != 25 {
		t.Errorf("final progress = %+v", last)
	}
	// One throttled emission at most plus the final one.
	if n := len(sink.progress); n > 2 {
		t.Errorf("%d progress emissions with an hour-long interval", n)
	}
}

func TestFiltersAndNonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleTree)

	e := newTestEngine(t, func(c *Config) { c.Filter = filter.New("*.txt", "sub/*") })
	sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Completed != 1 {
		t.Errorf("filtered run hashed %d files, want 1 (a.txt)", sum.Completed)
	}

	e = newTestEngine(t, func(c *Config) { c.Recursive = false })
	sum, err = e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Completed != 3 {
		t.Errorf("non-recursive run hashed %d files, want 3", sum.Completed)
	}
}

func TestFileInputsUseParentAsBase(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"one.txt": "1", "sub/two.txt": "2"})
	e := newTestEngine(t, nil)
	_, err := e.Run(context.Background(), Request{
		Inputs:    []string{filepath.Join(root, "one.txt"), filepath.Join(root, "sub", "two.txt")},
		Algorithm: digest.SHA256,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Store().FullPath(1); got != filepath.Join(root, "sub", "two.txt") {
		t.Errorf("FullPath(1) = %q", got)
	}
	f := SumFile(e.Store(), digest.SHA256, filepath.Join(root, "out.sha256"))
	if len(f.Entries) != 2 || filepath.ToSlash(f.Entries[1].Path) != "sub/two.txt" {
		t.Errorf("entries = %+v", f.Entries)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Run(context.Background(), Request{Inputs: []string{"."}, Algorithm: "whirlpool"}); !errors.Is(err, digest.ErrUnknownAlgorithm) {
		t.Errorf("unknown algorithm: %v", err)
	}
	if _, err := e.Run(context.Background(), Request{Algorithm: digest.MD5}); !errors.Is(err, ErrNoInputs) {
		t.Errorf("no inputs: %v", err)
	}
	if e.State() != Idle {
		t.Errorf("State = %v after rejected requests", e.State())
	}
}

func manyFiles(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	files := make(map[string]string, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("f%04d.txt", i)] = fmt.Sprintf("content %d", i)
	}
	writeFiles(t, root, files)
	return root
}

func TestPauseHaltsProgressAndResumeCompletes(t *testing.T) {
	const n = 500
	root := manyFiles(t, n)
	e := newTestEngine(t, nil)

	paused := make(chan struct{})
	var once sync.Once
	sink := &recordingSink{onProgress: func(Snapshot) {
		once.Do(func() {
			if err := e.Pause(); err != nil {
				t.Errorf("Pause: %v", err)
			}
			close(paused)
		})
	}}

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.SHA256, Mode: Sequential, Sink: sink})
		done <- result{sum, err}
	}()

	<-paused
	if !e.Paused() {
		t.Fatal("engine should report paused")
	}
	time.Sleep(20 * time.Millisecond)
	before := e.Progress().Completed
	time.Sleep(100 * time.Millisecond)
	if after := e.Progress().Completed; after != before {
		t.Fatalf("progress advanced while paused: %d -> %d", before, after)
	}
	if before >= n {
		t.Fatalf("run finished before pause took effect")
	}

	if err := e.Resume(); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("Run: %v", res.err)
	}
	if res.sum.Completed != n || res.sum.OK != n {
		t.Errorf("summary = %+v", res.sum)
	}
	if c := e.Store().Counts(); c.OK != n || c.Total() != n {
		t.Errorf("store counts = %+v", c)
	}
	if e.State() != Completed {
		t.Errorf("State = %v", e.State())
	}
}

func TestCancelKeepsWrittenResults(t *testing.T) {
	const n = 1000
	root := manyFiles(t, n)
	e := newTestEngine(t, nil)

	var once sync.Once
	sink := &recordingSink{onProgress: func(Snapshot) {
		once.Do(func() {
			if err := e.Cancel(); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		})
	}}

	start := time.Now()
	sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5, Mode: Sequential, Sink: sink})
	if !errors.Is(err, gate.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation was not prompt")
	}
	if sum.Completed == 0 || sum.Completed >= n {
		t.Errorf("partial summary = %+v", sum)
	}
	c := e.Store().Counts()
	if int64(c.OK) != sum.OK || c.Pending != 0 {
		t.Errorf("store counts = %+v, summary = %+v", c, sum)
	}
	if e.State() != Cancelled {
		t.Errorf("State = %v", e.State())
	}
	if err := e.Cancel(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("Cancel after run: %v", err)
	}
}

func TestContextCancellationStopsRun(t *testing.T) {
	root := manyFiles(t, 100)
	e := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, Request{Inputs: []string{root}, Algorithm: digest.MD5})
	if !errors.Is(err, gate.ErrCancelled) {
		t.Errorf("err = %v", err)
	}
}

func TestSecondRunIsRejectedWhileActive(t *testing.T) {
	root := manyFiles(t, 20)
	e := newTestEngine(t, nil)

	// The run cannot return while its sink is still busy.
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	sink := &recordingSink{onDiscovered: func([]int) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}}
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5, Sink: sink})
		done <- err
	}()
	<-entered

	if _, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent Run: %v", err)
	}
	if err := e.Cancel(); err != nil {
		t.Errorf("Cancel: %v", err)
	}
	close(release)
	if err := <-done; !errors.Is(err, gate.ErrCancelled) {
		t.Errorf("first run: %v", err)
	}
}

func TestStoreClearedBetweenRuns(t *testing.T) {
	root := manyFiles(t, 5)
	e := newTestEngine(t, nil)
	for i := 0; i < 2; i++ {
		if _, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.CRC32}); err != nil {
			t.Fatal(err)
		}
	}
	if e.Store().Len() != 5 {
		t.Errorf("store holds %d entries after two runs", e.Store().Len())
	}
	if got := e.Store().DigestHex(0); got != strings.ToUpper(got) {
		t.Errorf("CRC32 digests should render upper-case: %s", got)
	}
}

func TestUnreadableFileIsError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read anything")
	}
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"ok.txt": "fine", "locked.txt": "secret"})
	if err := os.Chmod(filepath.Join(root, "locked.txt"), 0); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, nil)
	sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.SHA1})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Errors != 1 || sum.OK != 1 || sum.Completed != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestBlockedSinkDoesNotStallSequentialRun(t *testing.T) {
	const n = 50
	root := manyFiles(t, n)
	e := newTestEngine(t, func(c *Config) { c.ProgressInterval = time.Millisecond })

	release := make(chan struct{})
	sink := &recordingSink{onProgress: func(Snapshot) { <-release }}
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.SHA256, Mode: Sequential, Sink: sink})
		done <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for e.Progress().Completed < n {
		if time.Now().After(deadline) {
			close(release)
			t.Fatalf("hashed %d of %d files while the sink was blocked", e.Progress().Completed, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("Run returned (%v) before its sink caught up", err)
	default:
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if last := sink.lastProgress(); last.Completed != n {
		t.Errorf("final progress = %+v", last)
	}
}

func TestSlowSinkDoesNotSlowSequentialRun(t *testing.T) {
	const n = 50
	const delay = 200 * time.Millisecond
	root := manyFiles(t, n)
	e := newTestEngine(t, func(c *Config) { c.ProgressInterval = time.Millisecond })
	sink := &recordingSink{onProgress: func(Snapshot) { time.Sleep(delay) }}

	start := time.Now()
	sum, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5, Mode: Sequential, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Completed != n {
		t.Errorf("summary = %+v", sum)
	}
	// At most one call in flight at the end plus the final one.
	if took := time.Since(start); took > 10*delay {
		t.Errorf("run took %v with a %v sink", took, delay)
	}
}

func TestEnumeratorBlocksWhenWorkersFallBehind(t *testing.T) {
	const n, capacity = 3000, 4
	root := manyFiles(t, n)
	e := newTestEngine(t, func(c *Config) { c.QueueCapacity = capacity })
	// Queued items, the one worker's item and the item being pushed.
	const bound = capacity + 1 + 1

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), Request{Inputs: []string{root}, Algorithm: digest.MD5, Mode: Sequential})
		done <- err
	}()

	paused := false
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			if !paused {
				t.Fatal("run finished before it could be paused")
			}
			return
		default:
		}

		s := e.Progress() // Discovered is read before Completed
		if e.State() == Running && s.Discovered-s.Completed > bound {
			t.Fatalf("%d files in flight, bound is %d", s.Discovered-s.Completed, bound)
		}
		if !paused && s.Completed >= 10 {
			if err := e.Pause(); err != nil {
				t.Fatalf("Pause: %v", err)
			}
			paused = true
			time.Sleep(50 * time.Millisecond)
			s = e.Progress()
			if s.Discovered-s.Completed > bound || s.Discovered >= n {
				t.Errorf("while paused: discovered %d, completed %d", s.Discovered, s.Completed)
			}
			if err := e.Resume(); err != nil {
				t.Fatalf("Resume: %v", err)
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func TestVerifyEntriesShareDirectoryStrings(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"sub/a.txt": "a", "sub/b.txt": "b"})
	line := func(content, name string) string {
		return hex.EncodeToString(digest.MD5.Sum([]byte(content))) + " *" + name + "\n"
	}
	writeFiles(t, dir, map[string]string{"all.md5": line("a", "sub/a.txt") + line("b", "sub/b.txt") + line("c", "c.txt")})

	e := newTestEngine(t, nil)
	got := verifySums(t, e, filepath.Join(dir, "all.md5"), Sequential)
	if got.OK != 2 || got.Missing != 1 {
		t.Fatalf("summary = %+v", got)
	}
	a, _ := e.Store().Snapshot(0)
	b, _ := e.Store().Snapshot(1)
	c, _ := e.Store().Snapshot(2)
	if a.Dir != "sub" || unsafe.StringData(a.Dir) != unsafe.StringData(b.Dir) {
		t.Errorf("Dir %q and %q should be one interned string", a.Dir, b.Dir)
	}
	if c.Dir != "" || c.RelativePath != "c.txt" {
		t.Errorf("top-level entry = %+v", c)
	}
	if e.Store().FullPath(1) != filepath.Join(dir, "sub", "b.txt") {
		t.Errorf("FullPath(1) = %q", e.Store().FullPath(1))
	}
}
