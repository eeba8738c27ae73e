//go:build !linux

package topology

// SysfsProber is only functional on Linux. Elsewhere it always fails, which
// makes the concurrency policy fall back to sequential reads.
type SysfsProber struct {
	Root string
}

func deviceKey(string) (string, error) { return "", ErrUnsupported }

// PrefersSequential implements Prober.
func (SysfsProber) PrefersSequential(string) (bool, error) { return false, ErrUnsupported }
