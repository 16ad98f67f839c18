package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/discover"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type dirState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// IngestFunc is called with the absolute paths of new or changed BEP files.
type IngestFunc func(ctx context.Context, paths []string) error

// Watcher polls directories for BEP files and ingests the ones that are new
// or changed since the previous poll.
type Watcher struct {
	ingestFn IngestFunc

	mu   sync.Mutex
	dirs map[string]*dirState
	ctx  context.Context
}

// New creates a Watcher over dirs. ingestFn is called when files appear or
// change.
func New(dirs []string, ingestFn IngestFunc) *Watcher {
	w := &Watcher{
		ingestFn: ingestFn,
		dirs:     make(map[string]*dirState),
		ctx:      context.Background(),
	}
	for _, d := range dirs {
		w.Watch(d)
	}
	return w
}

// Watch adds dir to the polled set. Adding a directory twice is a no-op.
func (w *Watcher) Watch(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; !ok {
		w.dirs[dir] = &dirState{}
	}
}

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// directory only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	w.pollAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

type dueDir struct {
	dir   string
	state *dirState
}

// pollAll polls each directory that is due. The lock guards only the
// directory table; each dirState is owned by the polling goroutine.
func (w *Watcher) pollAll() {
	w.mu.Lock()
	ctx := w.ctx
	now := time.Now()
	var due []dueDir
	for dir, state := range w.dirs {
		if now.Before(state.nextPoll) {
			continue // not due yet
		}
		due = append(due, dueDir{dir, state})
	}
	w.mu.Unlock()

	for _, d := range due {
		w.pollDir(ctx, d.dir, d.state)
	}
}

// pollDir captures a snapshot of dir and ingests every file that is new or
// whose mtime or size changed. The first poll ingests everything present.
func (w *Watcher) pollDir(ctx context.Context, dir string, state *dirState) {
	if _, err := os.Stat(dir); err != nil {
		slog.Warn("watcher.dir_gone", "dir", dir)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(ctx, dir)
	if err != nil {
		slog.Warn("watcher.snapshot", "dir", dir, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))
	changed := changedFiles(state.snapshot, snap)
	if len(changed) == 0 {
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "dir", dir, "files", len(snap), "changed", len(changed))
	if err := w.ingestFn(ctx, changed); err != nil {
		slog.Warn("watcher.ingest", "dir", dir, "err", err)
		// Keep old snapshot so we retry next cycle
		state.nextPoll = time.Now().Add(interval)
		return
	}

	state.snapshot = snap
	state.interval = interval
	state.nextPoll = time.Now().Add(interval)
}

// captureSnapshot discovers the BEP files under dir and records mtime+size
// for each, keyed by absolute path.
func captureSnapshot(ctx context.Context, dir string) (map[string]fileSnapshot, error) {
	files, err := discover.Discover(ctx, dir, nil)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		snap[f.Path] = fileSnapshot{modTime: f.ModTime, size: f.Size}
	}
	return snap, nil
}

// changedFiles returns the paths in cur that are missing from prev or
// differ in mtime or size, sorted. Removed files are not reported.
func changedFiles(prev, cur map[string]fileSnapshot) []string {
	var out []string
	for path, c := range cur {
		p, ok := prev[path]
		if !ok || !p.modTime.Equal(c.modTime) || p.size != c.size {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
