package buildresult

import (
	"cmp"
	"maps"
	"slices"
	"sync"
)

// Index accumulates artifact data across successive builds of the same
// workspace. Rebuilding a target replaces its previous associations;
// artifacts left with no owning target are dropped. Safe for concurrent use.
type Index struct {
	mu   sync.RWMutex
	data map[string]*ArtifactData
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{data: make(map[string]*ArtifactData)}
}

// Apply records one build. builtTargets are the top-level targets the build
// covered: their old associations are removed before data is merged in.
func (ix *Index) Apply(builtTargets []string, data map[string]*ArtifactData) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, target := range builtTargets {
		ix.removeTargetLocked(target)
	}
	for key, newer := range data {
		older, ok := ix.data[key]
		if !ok {
			ix.data[key] = newer
			continue
		}
		merged, err := Merge(older, newer)
		if err != nil {
			return err
		}
		ix.data[key] = merged
	}
	return nil
}

// RemoveTarget drops target from every artifact and returns how many
// artifacts were deleted because nothing references them anymore.
func (ix *Index) RemoveTarget(target string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeTargetLocked(target)
}

func (ix *Index) removeTargetLocked(target string) int {
	deleted := 0
	for key, d := range ix.data {
		if !d.OwnedBy(target) {
			continue
		}
		updated, ok := d.RemoveTargetAssociation(target)
		if !ok {
			delete(ix.data, key)
			deleted++
			continue
		}
		ix.data[key] = updated
	}
	return deleted
}

// Get returns the data for key.
func (ix *Index) Get(key string) (*ArtifactData, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.data[key]
	return d, ok
}

// Len returns the number of tracked artifacts.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.data)
}

// Snapshot returns a copy of the key -> data map.
func (ix *Index) Snapshot() map[string]*ArtifactData {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return maps.Clone(ix.data)
}

// Select returns the entries matching keep, sorted by key. A nil keep
// selects everything.
func (ix *Index) Select(keep func(*ArtifactData) bool) []*ArtifactData {
	ix.mu.RLock()
	out := make([]*ArtifactData, 0, len(ix.data))
	for _, d := range ix.data {
		if keep == nil || keep(d) {
			out = append(out, d)
		}
	}
	ix.mu.RUnlock()
	slices.SortFunc(out, func(a, b *ArtifactData) int { return cmp.Compare(a.Key(), b.Key()) })
	return out
}
