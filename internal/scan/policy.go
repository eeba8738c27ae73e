package scan

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/eargollo/sumcheck/internal/topology"
)

// Mode selects how many files are hashed at once.
type Mode int

const (
	// Auto asks the topology prober once per run.
	Auto Mode = iota
	Sequential
	Parallel
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return "auto"
	}
}

// ParseMode accepts "auto", "sequential"/"hdd" and "parallel"/"ssd".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "sequential", "hdd":
		return Sequential, nil
	case "parallel", "ssd":
		return Parallel, nil
	}
	return Auto, fmt.Errorf("unknown io mode %q", s)
}

const (
	sequentialBufferSize = 4 << 20
	parallelBufferSize   = 512 << 10
)

var numCPU = runtime.NumCPU

// Policy is the concurrency decision for one run.
type Policy struct {
	Workers    int
	BufferSize int
	Sequential bool
	Reason     string
}

func sequentialPolicy(reason string) Policy {
	return Policy{Workers: 1, BufferSize: sequentialBufferSize, Sequential: true, Reason: reason}
}

func parallelPolicy(reason string) Policy {
	n := numCPU()
	if n < 1 {
		n = 1
	}
	return Policy{Workers: n, BufferSize: parallelBufferSize, Reason: reason}
}

// Decide picks the worker count and buffer size. In Auto mode path is probed
// once; a failed or missing probe falls back to sequential.
func Decide(mode Mode, prober topology.Prober, path string) Policy {
	switch mode {
	case Sequential:
		return sequentialPolicy("forced")
	case Parallel:
		return parallelPolicy("forced")
	}
	if prober == nil || path == "" {
		return sequentialPolicy("no probe")
	}
	seq, err := prober.PrefersSequential(path)
	if err != nil {
		return sequentialPolicy("probe failed: " + err.Error())
	}
	if seq {
		return sequentialPolicy("rotational storage")
	}
	return parallelPolicy("non-rotational storage")
}
