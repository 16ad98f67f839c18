// Package buildresult holds per-artifact build data and its merging across
// file sets and across successive builds.
package buildresult

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
)

// ErrInvalidMerge is returned when merging data for two different artifacts.
var ErrInvalidMerge = errors.New("cannot merge artifact data with different keys")

// ArtifactData is everything the build reported about one artifact: the
// output groups it belongs to and the top-level targets that transitively
// produced it. Its identity is the artifact key. Values are never mutated;
// every operation returns a new value.
type ArtifactData struct {
	Artifact        artifact.OutputArtifact
	outputGroups    map[string]struct{}
	topLevelTargets map[string]struct{}
}

// New returns data for a with the given groups and targets.
func New(a artifact.OutputArtifact, outputGroups, topLevelTargets []string) *ArtifactData {
	return &ArtifactData{
		Artifact:        a,
		outputGroups:    toSet(outputGroups),
		topLevelTargets: toSet(topLevelTargets),
	}
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func union(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}

// Key returns the artifact key.
func (d *ArtifactData) Key() string { return d.Artifact.Key() }

// OutputGroups returns the output groups in sorted order.
func (d *ArtifactData) OutputGroups() []string {
	return slices.Sorted(maps.Keys(d.outputGroups))
}

// TopLevelTargets returns the owning top-level targets in sorted order.
func (d *ArtifactData) TopLevelTargets() []string {
	return slices.Sorted(maps.Keys(d.topLevelTargets))
}

// InOutputGroup reports whether the artifact belongs to group.
func (d *ArtifactData) InOutputGroup(group string) bool {
	_, ok := d.outputGroups[group]
	return ok
}

// OwnedBy reports whether target is one of the artifact's top-level targets.
func (d *ArtifactData) OwnedBy(target string) bool {
	_, ok := d.topLevelTargets[target]
	return ok
}

// Merge combines older data with a newer report of the same artifact. The
// result carries newer's artifact and the union of both group and target
// sets.
func Merge(older, newer *ArtifactData) (*ArtifactData, error) {
	if older.Key() != newer.Key() {
		return nil, fmt.Errorf("%w: %q vs %q", ErrInvalidMerge, older.Key(), newer.Key())
	}
	return &ArtifactData{
		Artifact:        newer.Artifact,
		outputGroups:    union(older.outputGroups, newer.outputGroups),
		topLevelTargets: union(older.topLevelTargets, newer.topLevelTargets),
	}, nil
}

// Combine folds same-key data with Merge. It returns nil for an empty slice.
func Combine(items []*ArtifactData) (*ArtifactData, error) {
	if len(items) == 0 {
		return nil, nil
	}
	acc := items[0]
	for _, next := range items[1:] {
		var err error
		if acc, err = Merge(acc, next); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// RemoveTargetAssociation drops target from the owning targets. ok is false
// when no targets remain, meaning the artifact is no longer referenced and
// its entry should be deleted.
func (d *ArtifactData) RemoveTargetAssociation(target string) (updated *ArtifactData, ok bool) {
	targets := make(map[string]struct{}, len(d.topLevelTargets))
	for t := range d.topLevelTargets {
		if t != target {
			targets[t] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return nil, false
	}
	return &ArtifactData{
		Artifact:        d.Artifact,
		outputGroups:    d.outputGroups,
		topLevelTargets: targets,
	}, true
}

// Equal reports whether d and o describe the same artifact key with the same
// groups and targets. Artifact reference identity is not compared.
func (d *ArtifactData) Equal(o *ArtifactData) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Key() == o.Key() &&
		maps.Equal(d.outputGroups, o.outputGroups) &&
		maps.Equal(d.topLevelTargets, o.topLevelTargets)
}
