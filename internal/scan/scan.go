// Package scan computes and verifies file digests with a bounded
// producer/consumer pipeline: one enumerator feeds a fixed-capacity queue that
// N hashing workers drain, writing results into a shared store by index.
package scan

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/filter"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

// ErrNoInputs is returned by Run when a creation request names no paths.
var ErrNoInputs = errors.New("nothing to hash")

// Config holds pipeline tuning parameters.
type Config struct {
	QueueCapacity    int
	LargeFileBytes   int64 // files above this stream with per-file progress
	BatchSize        int   // discovered indices per OnDiscovered call
	BatchInterval    time.Duration
	ProgressInterval time.Duration // minimum gap between OnProgress calls
	Recursive        bool
	Mmap             bool // map small files instead of ReadAt on a descriptor
	GCPercent        int  // applied for the duration of a run; 0 leaves GC alone
	Filter           *filter.Filter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:    50_000,
		LargeFileBytes:   50 << 20,
		BatchSize:        2_000,
		BatchInterval:    250 * time.Millisecond,
		ProgressInterval: 100 * time.Millisecond,
		Recursive:        true,
		Mmap:             true,
		GCPercent:        400,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.LargeFileBytes <= 0 {
		c.LargeFileBytes = d.LargeFileBytes
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	return c
}

// Request describes one run. A non-nil Sums switches to verification mode,
// where SumPath locates the checksum file and entry paths resolve relative
// to its directory. Otherwise Inputs lists the files and directories to hash.
type Request struct {
	Inputs    []string
	Sums      *sumfile.File
	SumPath   string
	Algorithm digest.Algorithm // empty in verification mode means Sums.Algorithm
	Mode      Mode
	Sink      Sink
}

// Verify reports whether r is a verification run.
func (r Request) Verify() bool { return r.Sums != nil }

func (r Request) algorithm() digest.Algorithm {
	if r.Algorithm == "" && r.Sums != nil {
		return r.Sums.Algorithm
	}
	return r.Algorithm
}

// probePath is the one representative path handed to the topology prober.
func (r Request) probePath() string {
	if r.Sums != nil {
		return filepath.Dir(r.SumPath)
	}
	if len(r.Inputs) > 0 {
		return r.Inputs[0]
	}
	return ""
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string           `json:"run_id,omitempty"` // set by Manager when history is recorded
	Algorithm  digest.Algorithm `json:"algorithm"`
	Discovered int64            `json:"discovered"`
	Completed  int64            `json:"completed"`
	OK         int64            `json:"ok"`
	Bad        int64            `json:"bad"`
	Errors     int64            `json:"errors"`
	Missing    int64            `json:"missing"`
	Bytes      int64            `json:"bytes"`
	Legacy     bool             `json:"legacy"`
	Workers    int              `json:"workers"`
	Sequential bool             `json:"sequential"`
	Elapsed    time.Duration    `json:"elapsed_ns"`
}

// Clean reports whether every entry verified or hashed successfully.
func (s Summary) Clean() bool {
	return s.Bad == 0 && s.Errors == 0 && s.Missing == 0
}
