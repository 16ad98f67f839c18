// Package bepparser turns a build event stream into a ParsedOutput: the
// build's identity and status plus the resolved graph of output file sets.
package bepparser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/artifact"
	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
	"github.com/DeusData/bep-artifacts-mcp/internal/intern"
	"github.com/DeusData/bep-artifacts-mcp/internal/throttle"
)

// Options configures Parse. The zero value parses without throttling, with
// a private interner and the default artifact parser.
type Options struct {
	// Interner is shared across parses so repeated strings from parallel
	// builds collapse to one copy.
	Interner *intern.Interner
	// Throttle bounds concurrent parses. nil means unbounded.
	Throttle *throttle.Throttle
	// ParseArtifact converts file records. nil means artifact.Parse.
	ParseArtifact artifact.Parser
}

// Parse consumes stream to its end and returns the parsed build. It first
// takes a permit from opts.Throttle and holds it until the parse finishes.
// The stream is not closed.
func Parse(ctx context.Context, stream bep.Stream, opts Options) (*ParsedOutput, error) {
	if err := opts.Throttle.Acquire(ctx); err != nil {
		return nil, err
	}
	defer opts.Throttle.Release()

	if opts.Interner == nil {
		opts.Interner = intern.New()
	}
	if opts.ParseArtifact == nil {
		opts.ParseArtifact = artifact.Parse
	}

	t0 := time.Now()
	d := newDispatcher(opts.Interner)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bep parse interrupted after %d events: %w", d.events, err)
		}
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		if err := d.dispatch(ev); err != nil {
			return nil, err
		}
	}
	if d.events == 0 {
		return nil, ErrEmptyStream
	}

	out := d.finish(opts.ParseArtifact, stream.BytesConsumed())
	slog.Info("bep.parse.done",
		"build_id", out.buildID,
		"events", d.events,
		"file_sets", len(d.sets.ids),
		"valid_sets", len(out.fileSetOrder),
		"dropped_files", d.droppedFiles,
		"bytes", out.bytesConsumed,
		"elapsed", time.Since(t0),
	)
	return out, nil
}

// dispatcher accumulates stream state event by event.
type dispatcher struct {
	in *intern.Interner

	events            int
	buildID           string
	localExecRoot     string
	workspaceStatus   map[string]string
	syncStart         time.Time
	buildResult       int
	finished          bool
	mnemonics         map[string]string
	sets              *fileSetTable
	topLevel          []int
	topLevelSeen      map[int]bool
	targetSets        map[string][]string
	targetOrder       []string
	targetsWithErrors map[string]struct{}
	droppedFiles      int
}

func newDispatcher(in *intern.Interner) *dispatcher {
	return &dispatcher{
		in:                in,
		workspaceStatus:   make(map[string]string),
		mnemonics:         make(map[string]string),
		sets:              newFileSetTable(),
		topLevelSeen:      make(map[int]bool),
		targetSets:        make(map[string][]string),
		targetsWithErrors: make(map[string]struct{}),
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedEvent}, args...)...)
}

func (d *dispatcher) dispatch(ev *bep.Event) error {
	if ev == nil {
		return malformed("nil event at position %d", d.events)
	}
	d.events++

	switch ev.ID.Kind {
	case bep.KindStarted:
		d.onStarted(ev.Started)
	case bep.KindWorkspace:
		if ev.WorkspaceInfo != nil {
			d.localExecRoot = ev.WorkspaceInfo.LocalExecRoot
		}
	case bep.KindWorkspaceStatus:
		if ev.WorkspaceStatus != nil {
			status := make(map[string]string, len(ev.WorkspaceStatus.Items))
			for _, it := range ev.WorkspaceStatus.Items {
				status[it.Key] = it.Value
			}
			d.workspaceStatus = status
		}
	case bep.KindConfiguration:
		if ev.ID.Configuration == nil {
			return malformed("configuration event without id")
		}
		mnemonic := ""
		if ev.Configuration != nil {
			mnemonic = ev.Configuration.Mnemonic
		}
		d.mnemonics[d.in.Intern(ev.ID.Configuration.ID)] = d.in.Intern(mnemonic)
	case bep.KindNamedSet:
		if ev.ID.NamedSet == nil {
			return malformed("named set event without id")
		}
		d.onNamedSet(ev.ID.NamedSet.ID, ev.NamedSetOfFiles)
	case bep.KindTargetCompleted:
		if ev.ID.TargetCompleted == nil || ev.ID.TargetCompleted.Label == "" {
			return malformed("target completed event without label")
		}
		d.onTargetCompleted(ev.ID.TargetCompleted, ev.Completed)
	case bep.KindActionCompleted:
		if ev.ID.ActionCompleted == nil || ev.Action == nil {
			return malformed("action completed event without action payload")
		}
		if !ev.Action.Success {
			d.targetsWithErrors[d.in.Intern(ev.ID.ActionCompleted.Label)] = struct{}{}
		}
	case bep.KindBuildFinished:
		if ev.Finished != nil {
			d.buildResult = int(ev.Finished.ExitCode.Code)
			d.finished = true
		}
	default:
		// Progress, options, fetches and the rest carry nothing we keep.
	}
	return nil
}

func (d *dispatcher) onStarted(s *bep.BuildStarted) {
	if s == nil {
		return
	}
	d.buildID = s.UUID
	d.syncStart = s.StartedAt()
}

func (d *dispatcher) onNamedSet(id string, ns *bep.NamedSetOfFiles) {
	b := d.sets.get(d.sets.handle(d.in.Intern(id)))
	if b.namedSet != nil {
		slog.Debug("bep.parse.duplicate_set", "id", id)
		return
	}
	b.namedSet = d.internNamedSet(ns)
}

// internNamedSet copies ns with every string routed through the interner.
// A missing payload is treated as an empty set.
func (d *dispatcher) internNamedSet(ns *bep.NamedSetOfFiles) *bep.NamedSetOfFiles {
	out := &bep.NamedSetOfFiles{}
	if ns == nil {
		return out
	}
	out.Files = make([]*bep.File, 0, len(ns.Files))
	for _, f := range ns.Files {
		if f == nil {
			continue
		}
		cp := *f
		cp.PathPrefix = make([]string, len(f.PathPrefix))
		for i, p := range f.PathPrefix {
			cp.PathPrefix[i] = d.in.Intern(p)
		}
		cp.Name = d.in.Intern(f.Name)
		cp.URI = d.in.Intern(f.URI)
		cp.Digest = d.in.Intern(f.Digest)
		out.Files = append(out.Files, &cp)
	}
	out.FileSets = make([]bep.NamedSetOfFilesID, len(ns.FileSets))
	for i, c := range ns.FileSets {
		out.FileSets[i] = bep.NamedSetOfFilesID{ID: d.in.Intern(c.ID)}
	}
	return out
}

func (d *dispatcher) onTargetCompleted(id *bep.TargetCompletedID, tc *bep.TargetComplete) {
	label := d.in.Intern(id.Label)
	configID := d.in.Intern(id.ConfigurationID())
	if _, ok := d.targetSets[label]; !ok {
		d.targetOrder = append(d.targetOrder, label)
		d.targetSets[label] = nil
	}
	if tc == nil {
		return
	}
	for _, g := range tc.OutputGroup {
		group := d.in.Intern(g.Name)
		for _, ref := range g.FileSets {
			setID := d.in.Intern(ref.ID)
			h := d.sets.handle(setID)
			b := d.sets.get(h)
			b.configID = configID
			b.outputGroups[group] = struct{}{}
			b.targets[label] = struct{}{}
			if !d.topLevelSeen[h] {
				d.topLevelSeen[h] = true
				d.topLevel = append(d.topLevel, h)
			}
			if !slices.Contains(d.targetSets[label], setID) {
				d.targetSets[label] = append(d.targetSets[label], setID)
			}
		}
	}
}

// finish resolves the file set graph and freezes the result.
func (d *dispatcher) finish(parse artifact.Parser, bytesConsumed int64) *ParsedOutput {
	d.sets.propagate(d.topLevel)
	sets, dropped := d.sets.materialize(d.mnemonics, d.syncStart, parse)
	d.droppedFiles = dropped

	out := &ParsedOutput{
		buildID:           d.buildID,
		localExecRoot:     d.localExecRoot,
		workspaceStatus:   d.workspaceStatus,
		fileSets:          make(map[string]*fileSet, len(sets)),
		fileSetOrder:      make([]string, 0, len(sets)),
		targetFileSets:    d.targetSets,
		targetOrder:       d.targetOrder,
		syncStartTime:     d.syncStart,
		buildResult:       d.buildResult,
		finished:          d.finished,
		bytesConsumed:     bytesConsumed,
		targetsWithErrors: d.targetsWithErrors,
	}
	for _, fs := range sets {
		out.fileSets[fs.id] = fs
		out.fileSetOrder = append(out.fileSetOrder, fs.id)
	}
	return out
}
