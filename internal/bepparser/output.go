package bepparser

import (
	"maps"
	"slices"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
	"github.com/DeusData/bep-artifacts-mcp/internal/buildresult"
)

// PathFilter selects artifacts by key. A nil filter accepts everything.
type PathFilter func(key string) bool

func (f PathFilter) accept(key string) bool { return f == nil || f(key) }

// ParsedOutput is the immutable result of one parse. All accessors are safe
// for concurrent use.
type ParsedOutput struct {
	buildID           string
	localExecRoot     string
	workspaceStatus   map[string]string
	fileSets          map[string]*fileSet
	fileSetOrder      []string
	targetFileSets    map[string][]string
	targetOrder       []string
	syncStartTime     time.Time
	buildResult       int
	finished          bool
	bytesConsumed     int64
	targetsWithErrors map[string]struct{}
}

// Empty is a ParsedOutput with no build, used where a caller needs a value
// before any build has been seen.
var Empty = &ParsedOutput{
	workspaceStatus:   map[string]string{},
	fileSets:          map[string]*fileSet{},
	targetFileSets:    map[string][]string{},
	targetsWithErrors: map[string]struct{}{},
}

// BuildID returns the build's UUID, or "" when the stream carried no
// started event.
func (p *ParsedOutput) BuildID() string { return p.buildID }

// LocalExecRoot returns the exec root reported by the workspace event.
func (p *ParsedOutput) LocalExecRoot() string { return p.localExecRoot }

// WorkspaceStatus returns a copy of the workspace status key/values.
func (p *ParsedOutput) WorkspaceStatus() map[string]string {
	return maps.Clone(p.workspaceStatus)
}

// BuildResult returns the build exit code. It is 0 when the stream ended
// without a finished event; see Finished.
func (p *ParsedOutput) BuildResult() int { return p.buildResult }

// Finished reports whether the stream contained a build finished event.
func (p *ParsedOutput) Finished() bool { return p.finished }

// BytesConsumed returns how many bytes of protocol data the stream read.
func (p *ParsedOutput) BytesConsumed() int64 { return p.bytesConsumed }

// SyncStartTime returns the build start time stamped on every artifact.
func (p *ParsedOutput) SyncStartTime() time.Time { return p.syncStartTime }

// TargetsWithErrors returns the labels of failed actions, sorted.
func (p *ParsedOutput) TargetsWithErrors() []string {
	return slices.Sorted(maps.Keys(p.targetsWithErrors))
}

// Targets returns every completed top-level target in stream order.
func (p *ParsedOutput) Targets() []string { return slices.Clone(p.targetOrder) }

// FileSetCount returns the number of resolved file sets.
func (p *ParsedOutput) FileSetCount() int { return len(p.fileSetOrder) }

// OutputGroups returns every output group name seen on a resolved set, sorted.
func (p *ParsedOutput) OutputGroups() []string {
	seen := make(map[string]struct{})
	for _, fs := range p.fileSets {
		maps.Copy(seen, fs.outputGroups)
	}
	return slices.Sorted(maps.Keys(seen))
}

// AllOutputArtifacts returns every artifact accepted by filter, deduplicated
// by key. Order follows first appearance in the stream.
func (p *ParsedOutput) AllOutputArtifacts(filter PathFilter) []artifact.OutputArtifact {
	seen := make(map[string]struct{})
	var out []artifact.OutputArtifact
	for _, id := range p.fileSetOrder {
		out = appendUnique(out, seen, p.fileSets[id].parsedOutputs, filter)
	}
	return out
}

// DirectArtifactsForTarget returns the artifacts of the sets a target
// references directly. Transitively reachable sets are not included.
// Unknown targets yield nil.
func (p *ParsedOutput) DirectArtifactsForTarget(label string, filter PathFilter) []artifact.OutputArtifact {
	seen := make(map[string]struct{})
	var out []artifact.OutputArtifact
	for _, id := range p.targetFileSets[label] {
		fs, ok := p.fileSets[id]
		if !ok {
			continue
		}
		out = appendUnique(out, seen, fs.parsedOutputs, filter)
	}
	return out
}

// OutputGroupArtifacts returns the artifacts of every set in group,
// including sets that joined the group through resolution. The result keeps
// first-seen order and contains each key once.
func (p *ParsedOutput) OutputGroupArtifacts(group string, filter PathFilter) []artifact.OutputArtifact {
	seen := make(map[string]struct{})
	var out []artifact.OutputArtifact
	for _, id := range p.fileSetOrder {
		fs := p.fileSets[id]
		if !fs.inGroup(group) {
			continue
		}
		out = appendUnique(out, seen, fs.parsedOutputs, filter)
	}
	return out
}

func appendUnique(out []artifact.OutputArtifact, seen map[string]struct{}, items []artifact.OutputArtifact, filter PathFilter) []artifact.OutputArtifact {
	for _, a := range items {
		key := a.Key()
		if _, dup := seen[key]; dup || !filter.accept(key) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// FullArtifactData returns, per artifact key accepted by filter, the union
// of output groups and top-level targets across every set that holds it.
// When several sets carry the same key the artifact from the last of them
// in stream order is kept.
func (p *ParsedOutput) FullArtifactData(filter PathFilter) map[string]*buildresult.ArtifactData {
	out := make(map[string]*buildresult.ArtifactData)
	for _, id := range p.fileSetOrder {
		fs := p.fileSets[id]
		groups := slices.Collect(maps.Keys(fs.outputGroups))
		targets := slices.Collect(maps.Keys(fs.targets))
		for _, a := range fs.parsedOutputs {
			key := a.Key()
			if !filter.accept(key) {
				continue
			}
			next := buildresult.New(a, groups, targets)
			prev, ok := out[key]
			if !ok {
				out[key] = next
				continue
			}
			merged, err := buildresult.Merge(prev, next)
			if err != nil {
				// Grouped by key, so keys always match.
				panic(err)
			}
			out[key] = merged
		}
	}
	return out
}
