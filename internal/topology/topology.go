// Package topology decides whether a path lives on storage that should be
// read sequentially (spinning media) or in parallel (SSD, NVMe, RAM).
package topology

import (
	"errors"
	"sync"
)

// ErrUnsupported is returned when the platform offers no way to inspect the
// backing device.
var ErrUnsupported = errors.New("storage topology probing not supported on this platform")

// Prober reports whether the device backing path prefers sequential access.
type Prober interface {
	PrefersSequential(path string) (bool, error)
}

// Static is a Prober with a fixed answer.
type Static bool

// PrefersSequential implements Prober.
func (s Static) PrefersSequential(string) (bool, error) { return bool(s), nil }

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(path string) (bool, error)

// PrefersSequential implements Prober.
func (f ProberFunc) PrefersSequential(path string) (bool, error) { return f(path) }

// Cache remembers answers per device so repeated runs over the same volume
// probe once.
type Cache struct {
	inner Prober
	key   func(path string) (string, error)

	mu      sync.RWMutex
	results map[string]bool
}

// NewCache wraps inner with a per-device cache.
func NewCache(inner Prober) *Cache {
	return &Cache{inner: inner, key: deviceKey, results: make(map[string]bool)}
}

// PrefersSequential implements Prober. Failed probes are not cached.
func (c *Cache) PrefersSequential(path string) (bool, error) {
	k, err := c.key(path)
	if err != nil {
		return c.inner.PrefersSequential(path)
	}

	c.mu.RLock()
	seq, ok := c.results[k]
	c.mu.RUnlock()
	if ok {
		return seq, nil
	}

	seq, err = c.inner.PrefersSequential(path)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.results[k] = seq
	c.mu.Unlock()
	return seq, nil
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
