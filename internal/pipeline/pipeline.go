package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/discover"
)

// Result is the outcome of ingesting one BEP file.
type Result struct {
	Path    string
	Hash    string
	Output  *bepparser.ParsedOutput // nil when Skipped or Err is set
	Skipped bool                    // content unchanged since the last successful parse
	Err     error
	Elapsed time.Duration
}

// Pipeline parses BEP files concurrently. Parses share the interner and
// throttle from the parser options, so the throttle bounds how many run at
// once regardless of how many files are queued. Files whose content hash
// matches the previous successful parse are skipped.
type Pipeline struct {
	opts    bepparser.Options
	workers int

	mu     sync.Mutex
	hashes map[string]string
}

// New creates a Pipeline that parses with opts.
func New(opts bepparser.Options) *Pipeline {
	return &Pipeline{
		opts:    opts,
		workers: runtime.NumCPU(),
		hashes:  make(map[string]string),
	}
}

// ParseFile opens and parses a single BEP file.
func ParseFile(ctx context.Context, path string, opts bepparser.Options) (*bepparser.ParsedOutput, error) {
	s, err := bep.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	out, err := bepparser.Parse(ctx, s, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Run ingests paths and returns one Result per path, in input order. The
// error joins every per-file failure; results for the files that parsed are
// returned alongside it.
func (p *Pipeline) Run(ctx context.Context, paths []string) ([]Result, error) {
	slog.Info("pipeline.start", "files", len(paths))
	t0 := time.Now()

	results := make([]Result, len(paths))
	workers := p.workers
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers < 1 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = p.ingest(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	parsed, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			errs = append(errs, r.Err)
		case r.Skipped:
			skipped++
		default:
			parsed++
		}
	}
	slog.Info("pipeline.done",
		"parsed", parsed, "skipped", skipped, "failed", len(errs), "elapsed", time.Since(t0))
	return results, errors.Join(errs...)
}

// RunDir discovers the BEP files under root and ingests them.
func (p *Pipeline) RunDir(ctx context.Context, root string) ([]Result, error) {
	files, err := discover.Discover(ctx, root, nil)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	slog.Info("pipeline.discovered", "root", root, "files", len(files))
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return p.Run(ctx, paths)
}

// Forget drops the remembered hash for path so the next Run parses it again.
func (p *Pipeline) Forget(path string) {
	p.mu.Lock()
	delete(p.hashes, path)
	p.mu.Unlock()
}

func (p *Pipeline) ingest(ctx context.Context, path string) Result {
	t := time.Now()
	r := Result{Path: path}

	hash, err := fileHash(path)
	if err != nil {
		r.Err = fmt.Errorf("hash %s: %w", path, err)
		return r
	}
	r.Hash = hash

	p.mu.Lock()
	prev, seen := p.hashes[path]
	p.mu.Unlock()
	if seen && prev == hash {
		r.Skipped = true
		r.Elapsed = time.Since(t)
		return r
	}

	out, err := ParseFile(ctx, path, p.opts)
	r.Elapsed = time.Since(t)
	if err != nil {
		slog.Warn("pipeline.parse", "path", path, "err", err)
		r.Err = err
		return r
	}
	r.Output = out

	p.mu.Lock()
	p.hashes[path] = hash
	p.mu.Unlock()
	return r
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
