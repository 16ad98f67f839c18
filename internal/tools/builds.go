package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/pipeline"
)

type build struct {
	ID         string
	Path       string
	Output     *bepparser.ParsedOutput
	IngestedAt time.Time
}

// buildTable keeps the latest parse of every build, most recent last.
type buildTable struct {
	mu    sync.RWMutex
	byID  map[string]*build
	order []string
}

func newBuildTable() *buildTable {
	return &buildTable{byID: make(map[string]*build)}
}

func (t *buildTable) put(b *build) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[b.ID]; ok {
		t.order = slices.DeleteFunc(t.order, func(id string) bool { return id == b.ID })
	}
	t.byID[b.ID] = b
	t.order = append(t.order, b.ID)
}

// get returns the build with id, or the most recent build when id is empty.
func (t *buildTable) get(id string) (*build, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id == "" {
		if len(t.order) == 0 {
			return nil, fmt.Errorf("no builds ingested yet")
		}
		return t.byID[t.order[len(t.order)-1]], nil
	}
	b, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("build not found: %s", id)
	}
	return b, nil
}

func (t *buildTable) list() []*build {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*build, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Ingest parses BEP files and records their builds. A path that is a
// directory is searched for BEP files. Per-file failures are joined into the
// returned error; files that parsed are recorded regardless.
func (s *Server) Ingest(ctx context.Context, paths []string) error {
	_, err := s.ingest(ctx, paths)
	return err
}

func (s *Server) ingest(ctx context.Context, paths []string) ([]pipeline.Result, error) {
	var results []pipeline.Result
	var files []string
	var errs []error
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		rs, err := s.pipeline.RunDir(ctx, p)
		results = append(results, rs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(files) > 0 {
		rs, err := s.pipeline.Run(ctx, files)
		results = append(results, rs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, r := range results {
		if r.Output == nil {
			continue
		}
		if err := s.record(r.Path, r.Output); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// record stores a parsed build and merges its artifacts into the index.
func (s *Server) record(file string, out *bepparser.ParsedOutput) error {
	id := out.BuildID()
	if id == "" {
		id = file
	}
	s.builds.put(&build{ID: id, Path: file, Output: out, IngestedAt: s.now()})
	if err := s.index.Apply(out.Targets(), out.FullArtifactData(nil)); err != nil {
		return fmt.Errorf("index %s: %w", file, err)
	}
	slog.Info("tools.build.recorded", "build_id", id, "path", file, "indexed", s.index.Len())
	return nil
}

// pathFilter turns a glob into a PathFilter. An empty pattern matches all.
func pathFilter(pattern string) (bepparser.PathFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid path_pattern %q: %w", pattern, err)
	}
	return func(key string) bool {
		ok, _ := path.Match(pattern, key)
		return ok
	}, nil
}

type artifactView struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Path     string `json:"path,omitempty"`
	URI      string `json:"uri,omitempty"`
	Mnemonic string `json:"configuration_mnemonic,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Length   int64  `json:"length,omitempty"`
}

func viewArtifact(a artifact.OutputArtifact) artifactView {
	v := artifactView{
		Key:      a.Key(),
		Kind:     a.Kind(),
		Mnemonic: a.ConfigurationMnemonic(),
		Digest:   a.Digest(),
		Length:   a.Length(),
	}
	switch x := a.(type) {
	case *artifact.LocalFile:
		v.Path = x.Path()
	case *artifact.Remote:
		v.URI = x.URI()
	}
	return v
}

func viewArtifacts(as []artifact.OutputArtifact, limit int) []artifactView {
	if limit > 0 && len(as) > limit {
		as = as[:limit]
	}
	out := make([]artifactView, 0, len(as))
	for _, a := range as {
		out = append(out, viewArtifact(a))
	}
	return out
}
