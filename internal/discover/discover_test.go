package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

func touch(t *testing.T, dir, rel string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{
		"build.bep",
		"ci/bep.json",
		"ci/build_events.ndjson.gz",
		"nightly/events.pb.zst",
		"package.json",
		"README.md",
		".git/objects/ab.bep",
		"skipme/old.bep",
	} {
		touch(t, dir, rel)
	}
	if err := os.WriteFile(filepath.Join(dir, ".bepignore"), []byte("# local\nskipme\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	files, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
		if f.Path == "" || f.Size != 1 || f.ModTime.IsZero() {
			t.Errorf("incomplete FileInfo: %+v", f)
		}
	}
	slices.Sort(rels)
	want := []string{"build.bep", "ci/bep.json", "ci/build_events.ndjson.gz", "nightly/events.pb.zst"}
	if diff := cmp.Diff(want, rels); diff != "" {
		t.Errorf("discovered (-want +got):\n%s", diff)
	}

	for _, f := range files {
		wantFormat := bep.FormatBinary
		if f.RelPath == "ci/bep.json" || f.RelPath == "ci/build_events.ndjson.gz" {
			wantFormat = bep.FormatJSON
		}
		if f.Format != wantFormat {
			t.Errorf("%s: format %v, want %v", f.RelPath, f.Format, wantFormat)
		}
	}
}

func TestDiscoverSingleFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "one.bep")
	files, err := Discover(context.Background(), filepath.Join(dir, "one.bep"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].RelPath != "one.bep" {
		t.Fatalf("unexpected result %+v", files)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	if _, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected an error for a missing root")
	}
}

func TestIsBEPFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"build.bep", true},
		{"BUILD.BEP.GZ", true},
		{"events.binpb", true},
		{"bep.json", true},
		{"my_build_events.jsonl.zst", true},
		{"package.json", false},
		{"notes.txt", false},
		{"bep", false},
	}
	for _, tt := range tests {
		if got := IsBEPFile(tt.name); got != tt.want {
			t.Errorf("IsBEPFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDiscoverCancellation(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "build.bep")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel

	_, err := Discover(ctx, dir, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
