package bepparser

import (
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

// fileSetBuilder accumulates what the stream says about one named set.
// Only sets referenced directly by a completed target receive a
// configuration, output groups and targets from the stream; the rest
// inherit them during resolution.
type fileSetBuilder struct {
	namedSet     *bep.NamedSetOfFiles
	configID     string
	outputGroups map[string]struct{}
	targets      map[string]struct{}
}

func (b *fileSetBuilder) inheritFrom(parent *fileSetBuilder) {
	b.configID = parent.configID
	for g := range parent.outputGroups {
		b.outputGroups[g] = struct{}{}
	}
	for t := range parent.targets {
		b.targets[t] = struct{}{}
	}
}

func (b *fileSetBuilder) valid(mnemonics map[string]string) bool {
	if b.namedSet == nil || b.configID == "" {
		return false
	}
	_, ok := mnemonics[b.configID]
	return ok
}

// fileSetTable is an arena of builders addressed by index. ids keeps the
// first-seen stream order of set ids.
type fileSetTable struct {
	index    map[string]int
	ids      []string
	builders []fileSetBuilder
}

func newFileSetTable() *fileSetTable {
	return &fileSetTable{index: make(map[string]int)}
}

// handle returns the index of the builder for id, creating it if needed.
func (t *fileSetTable) handle(id string) int {
	if h, ok := t.index[id]; ok {
		return h
	}
	h := len(t.builders)
	t.index[id] = h
	t.ids = append(t.ids, id)
	t.builders = append(t.builders, fileSetBuilder{
		outputGroups: make(map[string]struct{}),
		targets:      make(map[string]struct{}),
	})
	return h
}

func (t *fileSetTable) get(h int) *fileSetBuilder { return &t.builders[h] }

// fileSet is a resolved, immutable named set.
type fileSet struct {
	id            string
	parsedOutputs []artifact.OutputArtifact
	outputGroups  map[string]struct{}
	targets       map[string]struct{}
}

func (fs *fileSet) inGroup(group string) bool {
	_, ok := fs.outputGroups[group]
	return ok
}

// propagate pushes configuration, output groups and targets from the
// top-level sets down to every set they transitively reference. Each set is
// enqueued at most once, so a cyclic graph terminates; a set reachable from
// several parents only inherits from the first one that reaches it.
func (t *fileSetTable) propagate(topLevel []int) {
	visited := make(map[int]bool, len(t.builders))
	queue := make([]int, 0, len(topLevel))
	for _, h := range topLevel {
		if !visited[h] {
			visited[h] = true
			queue = append(queue, h)
		}
	}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		parent := t.get(h)
		if parent.namedSet == nil {
			continue
		}
		for _, child := range parent.namedSet.FileSets {
			c := t.handle(child.ID)
			if visited[c] {
				continue
			}
			// handle may have grown the arena; re-fetch the parent.
			parent = t.get(h)
			t.get(c).inheritFrom(parent)
			visited[c] = true
			queue = append(queue, c)
		}
	}
}

// materialize builds the immutable sets for every valid builder, in stream
// order, parsing each file record with parse. Records parse rejects are
// dropped.
func (t *fileSetTable) materialize(mnemonics map[string]string, syncStart time.Time, parse artifact.Parser) ([]*fileSet, int) {
	out := make([]*fileSet, 0, len(t.builders))
	dropped := 0
	for h, id := range t.ids {
		b := t.get(h)
		if !b.valid(mnemonics) {
			continue
		}
		mnemonic := mnemonics[b.configID]
		outputs := make([]artifact.OutputArtifact, 0, len(b.namedSet.Files))
		for _, f := range b.namedSet.Files {
			a, ok := parse(f, mnemonic, syncStart)
			if !ok {
				dropped++
				continue
			}
			outputs = append(outputs, a)
		}
		out = append(out, &fileSet{
			id:            id,
			parsedOutputs: outputs,
			outputGroups:  b.outputGroups,
			targets:       b.targets,
		})
	}
	return out, dropped
}
