package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/pflag"

	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/pipeline"
)

type buildSummary struct {
	Path              string            `json:"path"`
	BuildID           string            `json:"build_id,omitempty"`
	ExitCode          int               `json:"exit_code"`
	Finished          bool              `json:"finished"`
	LocalExecRoot     string            `json:"local_exec_root,omitempty"`
	WorkspaceStatus   map[string]string `json:"workspace_status,omitempty"`
	BytesConsumed     int64             `json:"bytes_consumed"`
	Targets           []string          `json:"targets"`
	TargetsWithErrors []string          `json:"targets_with_errors,omitempty"`
	OutputGroups      map[string]int    `json:"output_groups"`
	Artifacts         []string          `json:"artifacts,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// runParse parses BEP files once and prints a JSON summary per file.
func runParse(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("parse", pflag.ContinueOnError)
	listArtifacts := fs.Bool("artifacts", false, "include every artifact key in the summary")
	pattern := fs.String("path-pattern", "", "only list artifacts whose key matches this glob")
	cfg, err := setup(fs, args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(stderr, "usage: bep-artifacts-mcp parse [flags] <file>...")
		return 2
	}

	var filter bepparser.PathFilter
	if *pattern != "" {
		if _, err := path.Match(*pattern, ""); err != nil {
			fmt.Fprintf(stderr, "error: invalid --path-pattern %q: %v\n", *pattern, err)
			return 2
		}
		filter = func(key string) bool {
			ok, _ := path.Match(*pattern, key)
			return ok
		}
	}

	results, runErr := pipeline.New(parseOptions(cfg)).Run(context.Background(), files)
	summaries := make([]buildSummary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, summarize(r, *listArtifacts, filter))
	}

	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	if runErr != nil {
		return 1
	}
	return 0
}

func summarize(r pipeline.Result, listArtifacts bool, filter bepparser.PathFilter) buildSummary {
	s := buildSummary{Path: r.Path}
	if r.Err != nil {
		s.Error = r.Err.Error()
		return s
	}
	out := r.Output
	s.BuildID = out.BuildID()
	s.ExitCode = out.BuildResult()
	s.Finished = out.Finished()
	s.LocalExecRoot = out.LocalExecRoot()
	s.WorkspaceStatus = out.WorkspaceStatus()
	s.BytesConsumed = out.BytesConsumed()
	s.Targets = out.Targets()
	s.TargetsWithErrors = out.TargetsWithErrors()
	s.OutputGroups = make(map[string]int)
	for _, g := range out.OutputGroups() {
		s.OutputGroups[g] = len(out.OutputGroupArtifacts(g, filter))
	}
	if listArtifacts {
		for _, a := range out.AllOutputArtifacts(filter) {
			s.Artifacts = append(s.Artifacts, a.Key())
		}
	}
	return s
}
