// Package intern deduplicates strings. BEP streams repeat the same URIs,
// names and path segments many times within a build and across builds
// parsed in parallel; interning keeps one copy of each.
package intern

import (
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

const shardCount = 64

type shard struct {
	mu sync.RWMutex
	m  map[string]string
}

// Interner returns a canonical instance for equal strings. It is safe for
// concurrent use and never evicts; its lifetime bounds the retained memory.
type Interner struct {
	shards [shardCount]shard
}

// New returns an empty Interner.
func New() *Interner {
	in := &Interner{}
	for i := range in.shards {
		in.shards[i].m = make(map[string]string)
	}
	return in
}

// Intern returns the canonical copy of s. The first caller's value is
// cloned so the canonical copy never aliases a caller's larger buffer.
func (in *Interner) Intern(s string) string {
	if s == "" {
		return ""
	}
	sh := &in.shards[xxh3.HashString(s)%shardCount]

	sh.mu.RLock()
	v, ok := sh.m[s]
	sh.mu.RUnlock()
	if ok {
		return v
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.m[s]; ok {
		return v
	}
	v = strings.Clone(s)
	sh.m[v] = v
	return v
}

// InternAll interns every element of ss in place and returns ss.
func (in *Interner) InternAll(ss []string) []string {
	for i, s := range ss {
		ss[i] = in.Intern(s)
	}
	return ss
}

// Len reports how many distinct strings are held.
func (in *Interner) Len() int {
	n := 0
	for i := range in.shards {
		sh := &in.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
