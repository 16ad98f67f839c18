package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/buildresult"
)

const defaultLimit = 500

// buildAndFilter resolves the build_id and path_pattern arguments shared by
// the per-build artifact tools.
func (s *Server) buildAndFilter(args map[string]any) (*build, bepparser.PathFilter, error) {
	b, err := s.builds.get(getStringArg(args, "build_id"))
	if err != nil {
		return nil, nil, err
	}
	filter, err := pathFilter(getStringArg(args, "path_pattern"))
	if err != nil {
		return nil, nil, err
	}
	return b, filter, nil
}

func (s *Server) handleGetBuildInfo(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	b, err := s.builds.get(getStringArg(args, "build_id"))
	if err != nil {
		return errResult(err.Error()), nil
	}
	out := b.Output
	return jsonResult(map[string]any{
		"build_id":            b.ID,
		"path":                b.Path,
		"local_exec_root":     out.LocalExecRoot(),
		"workspace_status":    out.WorkspaceStatus(),
		"exit_code":           out.BuildResult(),
		"finished":            out.Finished(),
		"bytes_consumed":      out.BytesConsumed(),
		"started_at":          formatTime(out.SyncStartTime()),
		"targets":             out.Targets(),
		"output_groups":       out.OutputGroups(),
		"targets_with_errors": out.TargetsWithErrors(),
		"file_sets":           out.FileSetCount(),
	}), nil
}

func (s *Server) handleGetOutputGroupArtifacts(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	group := getStringArg(args, "output_group")
	if group == "" {
		return errResult("output_group is required"), nil
	}
	b, filter, err := s.buildAndFilter(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	artifacts := b.Output.OutputGroupArtifacts(group, filter)
	return jsonResult(map[string]any{
		"build_id":     b.ID,
		"output_group": group,
		"count":        len(artifacts),
		"artifacts":    viewArtifacts(artifacts, 0),
	}), nil
}

func (s *Server) handleGetTargetArtifacts(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	target := getStringArg(args, "target")
	if target == "" {
		return errResult("target is required"), nil
	}
	b, filter, err := s.buildAndFilter(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	artifacts := b.Output.DirectArtifactsForTarget(target, filter)
	return jsonResult(map[string]any{
		"build_id":  b.ID,
		"target":    target,
		"count":     len(artifacts),
		"artifacts": viewArtifacts(artifacts, 0),
	}), nil
}

func (s *Server) handleGetAllArtifacts(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	b, filter, err := s.buildAndFilter(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	limit := getIntArg(args, "limit", defaultLimit)
	artifacts := b.Output.AllOutputArtifacts(filter)
	return jsonResult(map[string]any{
		"build_id":  b.ID,
		"total":     len(artifacts),
		"artifacts": viewArtifacts(artifacts, limit),
	}), nil
}

type artifactDataView struct {
	artifactView
	OutputGroups    []string `json:"output_groups"`
	TopLevelTargets []string `json:"top_level_targets"`
	SyncStartTime   string   `json:"sync_start_time,omitempty"`
}

func viewArtifactData(d *buildresult.ArtifactData) artifactDataView {
	return artifactDataView{
		artifactView:    viewArtifact(d.Artifact),
		OutputGroups:    d.OutputGroups(),
		TopLevelTargets: d.TopLevelTargets(),
		SyncStartTime:   formatTime(d.Artifact.SyncStartTime()),
	}
}

func (s *Server) handleGetArtifactData(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	if key := getStringArg(args, "key"); key != "" {
		d, ok := s.index.Get(key)
		if !ok {
			return errResult(fmt.Sprintf("artifact not found: %s", key)), nil
		}
		return jsonResult(viewArtifactData(d)), nil
	}

	filter, err := pathFilter(getStringArg(args, "path_pattern"))
	if err != nil {
		return errResult(err.Error()), nil
	}
	group := getStringArg(args, "output_group")
	target := getStringArg(args, "target")
	limit := getIntArg(args, "limit", defaultLimit)

	matches := s.index.Select(func(d *buildresult.ArtifactData) bool {
		if group != "" && !d.InOutputGroup(group) {
			return false
		}
		if target != "" && !d.OwnedBy(target) {
			return false
		}
		return filter == nil || filter(d.Key())
	})

	total := len(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	views := make([]artifactDataView, 0, len(matches))
	for _, d := range matches {
		views = append(views, viewArtifactData(d))
	}
	return jsonResult(map[string]any{
		"total":     total,
		"artifacts": views,
	}), nil
}

func (s *Server) handleRemoveTarget(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	target := getStringArg(args, "target")
	if target == "" {
		return errResult("target is required"), nil
	}
	deleted := s.index.RemoveTarget(target)
	return jsonResult(map[string]any{
		"target":            target,
		"deleted_artifacts": deleted,
		"remaining":         s.index.Len(),
	}), nil
}
