package buildresult

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
)

func local(key string) artifact.OutputArtifact {
	return artifact.NewLocalFile(key, "/exec/"+key, "k8-fastbuild", time.Time{})
}

func TestMergeUnionsGroupsAndTargets(t *testing.T) {
	older := New(local("a.jar"), []string{"default"}, []string{"//a:a"})
	newerArtifact := local("a.jar")
	newer := New(newerArtifact, []string{"sources"}, []string{"//b:b"})

	got, err := Merge(older, newer)
	if err != nil {
		t.Fatal(err)
	}
	if got.Artifact != newerArtifact {
		t.Error("merged data should carry the newer artifact")
	}
	if diff := cmp.Diff([]string{"default", "sources"}, got.OutputGroups()); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"//a:a", "//b:b"}, got.TopLevelTargets()); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if older.InOutputGroup("sources") {
		t.Error("Merge must not mutate its inputs")
	}
}

func TestMergeRejectsDifferentKeys(t *testing.T) {
	_, err := Merge(New(local("a"), nil, nil), New(local("b"), nil, nil))
	if !errors.Is(err, ErrInvalidMerge) {
		t.Fatalf("expected ErrInvalidMerge, got %v", err)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := New(local("a.jar"), []string{"default", "jars"}, []string{"//a:a"})
	got, err := Merge(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(a) {
		t.Errorf("merge(a, a) = %v/%v, want %v/%v",
			got.OutputGroups(), got.TopLevelTargets(), a.OutputGroups(), a.TopLevelTargets())
	}
}

func TestCombineOrderIndependent(t *testing.T) {
	items := []*ArtifactData{
		New(local("k"), []string{"g1"}, []string{"//t:1"}),
		New(local("k"), []string{"g2"}, []string{"//t:2"}),
		New(local("k"), []string{"g1", "g3"}, []string{"//t:3"}),
		New(local("k"), nil, []string{"//t:1"}),
	}
	want, err := Combine(items)
	if err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := slices.Clone(items)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Combine(shuffled)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Fatalf("combine order %d differs: %v/%v", i, got.OutputGroups(), got.TopLevelTargets())
		}
	}
	if got, _ := Combine(nil); got != nil {
		t.Error("Combine(nil) should be nil")
	}
}

func TestRemoveTargetAssociation(t *testing.T) {
	d := New(local("a.jar"), []string{"default"}, []string{"//a:a", "//b:b"})

	updated, ok := d.RemoveTargetAssociation("//a:a")
	if !ok {
		t.Fatal("expected artifact to remain referenced")
	}
	if diff := cmp.Diff([]string{"//b:b"}, updated.TopLevelTargets()); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if !d.OwnedBy("//a:a") {
		t.Error("RemoveTargetAssociation must not mutate the receiver")
	}

	if _, ok := updated.RemoveTargetAssociation("//b:b"); ok {
		t.Error("removing the last target should report unreferenced")
	}

	same, ok := d.RemoveTargetAssociation("//unrelated:x")
	if !ok || !same.Equal(d) {
		t.Error("removing an unrelated target should leave data unchanged")
	}
}
