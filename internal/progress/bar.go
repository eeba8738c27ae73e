// Package progress renders run progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/eargollo/sumcheck/internal/scan"
)

// Bar is a scan.Sink drawing a file-count bar. The total grows as the
// enumerator discovers files.
type Bar struct {
	scan.NopSink

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	total  int64
	lastB  int64
	lastAt time.Time
}

// New creates a bar writing to w. throttle is the minimum gap between
// redraws.
func New(w io.Writer, label string, throttle time.Duration) *Bar {
	b := &Bar{lastAt: time.Now()}
	b.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(throttle),
		progressbar.OptionSetElapsedTime(true),
	)
	return b
}

// OnDiscovered grows the bar as batches arrive, ahead of the next snapshot.
func (b *Bar) OnDiscovered(batch []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += int64(len(batch))
	b.bar.ChangeMax64(b.total)
}

// OnProgress updates the count and the status line.
func (b *Bar) OnProgress(s scan.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.Discovered > b.total {
		b.total = s.Discovered
		b.bar.ChangeMax64(s.Discovered)
	}
	b.bar.Describe(b.describe(s, time.Now()))
	_ = b.bar.Set64(s.Completed)
}

// describe formats the counters and the read rate since the last call.
func (b *Bar) describe(s scan.Snapshot, now time.Time) string {
	rate := ""
	if dt := now.Sub(b.lastAt).Seconds(); dt > 0 && s.BytesRead >= b.lastB {
		rate = humanize.IBytes(uint64(float64(s.BytesRead-b.lastB)/dt)) + "/s"
	}
	b.lastB, b.lastAt = s.BytesRead, now
	return fmt.Sprintf("ok=%d bad=%d missing=%d err=%d | %s read %s",
		s.OK, s.Bad, s.Missing, s.Errors, humanize.IBytes(uint64(s.BytesRead)), rate)
}

// Close draws the final state.
func (b *Bar) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bar.Finish()
}
