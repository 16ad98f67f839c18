package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep/beptest"
	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/intern"
	"github.com/DeusData/bep-artifacts-mcp/internal/throttle"
)

func TestRunParsesEveryFile(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.bep", "b_bep.json", "c.bep"} {
		paths = append(paths, beptest.WriteFile(t, dir, name, beptest.Scenario(name)...))
	}

	th := throttle.New(2)
	p := New(bepparser.Options{Interner: intern.New(), Throttle: th})
	results, err := p.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}
	for i, r := range results {
		if r.Path != paths[i] {
			t.Errorf("result %d is for %s, want %s", i, r.Path, paths[i])
		}
		if r.Output == nil || r.Hash == "" {
			t.Fatalf("%s: missing output or hash: %+v", r.Path, r)
		}
		if got, want := r.Output.BuildID(), filepath.Base(paths[i]); got != want {
			t.Errorf("BuildID = %q, want %q", got, want)
		}
	}
	if th.InUse() != 0 {
		t.Errorf("throttle InUse = %d after Run", th.InUse())
	}
}

func TestRunSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := beptest.WriteFile(t, dir, "build.bep", beptest.Scenario("b1")...)

	p := New(bepparser.Options{})
	if _, err := p.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	results, err := p.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].Skipped || results[0].Output != nil {
		t.Errorf("unchanged file should be skipped: %+v", results[0])
	}

	beptest.WriteFile(t, dir, "build.bep", beptest.Scenario("b2")...)
	results, _ = p.Run(context.Background(), []string{path})
	if results[0].Skipped || results[0].Output.BuildID() != "b2" {
		t.Errorf("changed file should be reparsed: %+v", results[0])
	}

	p.Forget(path)
	results, _ = p.Run(context.Background(), []string{path})
	if results[0].Skipped {
		t.Error("forgotten file should be reparsed")
	}
}

func TestRunJoinsFailures(t *testing.T) {
	dir := t.TempDir()
	good := beptest.WriteFile(t, dir, "good.bep", beptest.Scenario("ok")...)
	empty := filepath.Join(dir, "empty.bep")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.bep")

	results, err := New(bepparser.Options{}).Run(context.Background(), []string{good, empty, missing})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, bepparser.ErrEmptyStream) {
		t.Errorf("joined error should include ErrEmptyStream: %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("joined error should include the missing file: %v", err)
	}
	if results[0].Output == nil {
		t.Error("good file should still parse")
	}
	if results[1].Err == nil || results[2].Err == nil {
		t.Error("bad files should carry their errors")
	}

	// A failed file is not remembered and is retried.
	results, _ = New(bepparser.Options{}).Run(context.Background(), []string{empty})
	if results[0].Skipped {
		t.Error("failed file must not be skipped")
	}
}

func TestRunDir(t *testing.T) {
	dir := t.TempDir()
	beptest.WriteFile(t, dir, "one.bep", beptest.Scenario("1")...)
	beptest.WriteFile(t, dir, "nested/two_bep.ndjson", beptest.Scenario("2")...)
	if err := os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	results, err := New(bepparser.Options{}).RunDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	path := beptest.WriteFile(t, dir, "build.bep", beptest.Scenario("b")...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(bepparser.Options{}).Run(ctx, []string{path})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunEmpty(t *testing.T) {
	results, err := New(bepparser.Options{}).Run(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Fatalf("Run(nil) = %v, %v", results, err)
	}
}
