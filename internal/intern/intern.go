// Package intern deduplicates repeated path segments so that thousands of
// files under one directory share a single string allocation.
package intern

import (
	"hash/maphash"
	"sync"
)

const numShards = 32 // power of two

// Pool is a scoped string pool. It is safe for concurrent use. Owners call
// Clear at the start of each run so repeated runs do not accumulate entries.
type Pool struct {
	seed   maphash.Seed
	shards [numShards]struct {
		mu    sync.RWMutex
		items map[string]string
	}
}

// New returns an empty Pool.
func New() *Pool {
	p := &Pool{seed: maphash.MakeSeed()}
	for i := range p.shards {
		p.shards[i].items = make(map[string]string, 64)
	}
	return p
}

// Intern returns the pooled copy of s, adding s when absent.
func (p *Pool) Intern(s string) string {
	sh := &p.shards[maphash.String(p.seed, s)&(numShards-1)]

	sh.mu.RLock()
	v, ok := sh.items[s]
	sh.mu.RUnlock()
	if ok {
		return v
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.items[s]; ok {
		return v
	}
	sh.items[s] = s
	return s
}

// InternBytes is Intern for a borrowed byte slice. When the value is already
// pooled no allocation happens; b is copied only on first insertion.
func (p *Pool) InternBytes(b []byte) string {
	sh := &p.shards[maphash.Bytes(p.seed, b)&(numShards-1)]

	sh.mu.RLock()
	v, ok := sh.items[string(b)] // no allocation for map index conversions
	sh.mu.RUnlock()
	if ok {
		return v
	}

	s := string(b)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.items[s]; ok {
		return v
	}
	sh.items[s] = s
	return s
}

// Len returns the number of pooled strings.
func (p *Pool) Len() int {
	n := 0
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Clear drops every pooled string so the memory can be reclaimed.
func (p *Pool) Clear() {
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.Lock()
		sh.items = make(map[string]string, 64)
		sh.mu.Unlock()
	}
}
