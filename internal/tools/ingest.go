package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleIngestBEP(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	p := getStringArg(args, "path")
	if p == "" {
		return errResult("path is required"), nil
	}

	results, ingestErr := s.ingest(ctx, []string{p})

	type fileResult struct {
		Path      string `json:"path"`
		BuildID   string `json:"build_id,omitempty"`
		Status    string `json:"status"`
		Error     string `json:"error,omitempty"`
		ElapsedMS int64  `json:"elapsed_ms"`
	}

	files := make([]fileResult, 0, len(results))
	parsed := 0
	for _, r := range results {
		fr := fileResult{Path: r.Path, ElapsedMS: r.Elapsed.Milliseconds()}
		switch {
		case r.Err != nil:
			fr.Status = "failed"
			fr.Error = r.Err.Error()
		case r.Skipped:
			fr.Status = "unchanged"
		default:
			fr.Status = "parsed"
			fr.BuildID = r.Output.BuildID()
			parsed++
		}
		files = append(files, fr)
	}

	if len(results) == 0 && ingestErr != nil {
		return errResult(fmt.Sprintf("ingest failed: %v", ingestErr)), nil
	}

	resp := map[string]any{
		"files":             files,
		"parsed":            parsed,
		"indexed_artifacts": s.index.Len(),
	}
	if ingestErr != nil {
		resp["errors"] = ingestErr.Error()
	}
	return jsonResult(resp), nil
}

func (s *Server) handleListBuilds(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type buildInfo struct {
		BuildID    string `json:"build_id"`
		Path       string `json:"path"`
		ExitCode   int    `json:"exit_code"`
		Finished   bool   `json:"finished"`
		StartedAt  string `json:"started_at,omitempty"`
		IngestedAt string `json:"ingested_at"`
		Targets    int    `json:"targets"`
		Artifacts  int    `json:"artifacts"`
	}

	builds := s.builds.list()
	result := make([]buildInfo, 0, len(builds))
	for _, b := range builds {
		result = append(result, buildInfo{
			BuildID:    b.ID,
			Path:       b.Path,
			ExitCode:   b.Output.BuildResult(),
			Finished:   b.Output.Finished(),
			StartedAt:  formatTime(b.Output.SyncStartTime()),
			IngestedAt: formatTime(b.IngestedAt),
			Targets:    len(b.Output.Targets()),
			Artifacts:  len(b.Output.AllOutputArtifacts(nil)),
		})
	}
	return jsonResult(result), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
