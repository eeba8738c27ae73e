//go:build linux

package topology

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SysfsProber reads the block layer's rotational flag for the device that
// holds a path.
type SysfsProber struct {
	// Root is the sysfs mount point. Empty means /sys.
	Root string
}

func device(path string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	dev := uint64(st.Dev) //nolint:unconvert // Dev is uint32 on some arches
	return unix.Major(dev), unix.Minor(dev), nil
}

func deviceKey(path string) (string, error) {
	maj, min, err := device(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", maj, min), nil
}

// PrefersSequential implements Prober.
func (p SysfsProber) PrefersSequential(path string) (bool, error) {
	maj, min, err := device(path)
	if err != nil {
		return false, err
	}
	root := p.Root
	if root == "" {
		root = "/sys"
	}
	dir := filepath.Join(root, "dev", "block", fmt.Sprintf("%d:%d", maj, min))
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	// Partitions carry no queue directory of their own; the flag lives on
	// the parent disk.
	for _, candidate := range []string{
		filepath.Join(dir, "queue", "rotational"),
		filepath.Join(filepath.Dir(dir), "queue", "rotational"),
	} {
		b, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		return string(bytes.TrimSpace(b)) == "1", nil
	}
	return false, fmt.Errorf("no rotational flag for device %d:%d", maj, min)
}
