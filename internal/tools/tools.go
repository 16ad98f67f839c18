package tools

import (
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/segmentio/encoding/json"

	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/buildresult"
	"github.com/DeusData/bep-artifacts-mcp/internal/pipeline"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp      *mcp.Server
	pipeline *pipeline.Pipeline
	index    *buildresult.Index
	builds   *buildTable
	now      func() time.Time
}

// NewServer creates a new MCP server with all tools registered. Every
// ingested file is parsed with opts.
func NewServer(opts bepparser.Options) *Server {
	srv := &Server{
		pipeline: pipeline.New(opts),
		index:    buildresult.NewIndex(),
		builds:   newBuildTable(),
		now:      time.Now,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "bep-artifacts-mcp",
				Version: Version,
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Index returns the cross-build artifact index.
func (s *Server) Index() *buildresult.Index {
	return s.index
}

const buildIDProp = `"build_id": {
					"type": "string",
					"description": "Build UUID (or file path for streams without a started event). Defaults to the most recently ingested build."
				}`

const pathPatternProp = `"path_pattern": {
					"type": "string",
					"description": "Glob over the artifact key, e.g. '*/bin/app/*.jar' (path.Match syntax; '*' does not cross '/')"
				}`

func (s *Server) registerTools() {
	// 1. ingest_bep
	s.mcp.AddTool(&mcp.Tool{
		Name:        "ingest_bep",
		Description: "Parse Build Event Protocol files (binary or JSON, optionally gzip/zstd compressed) and record their builds. A directory is searched recursively for BEP files. Unchanged files are skipped via content hashing. Output artifacts are merged into the cross-build artifact index.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Absolute path to a BEP file or a directory containing BEP files"
				}
			},
			"required": ["path"]
		}`),
	}, s.handleIngestBEP)

	// 2. list_builds
	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_builds",
		Description: "List ingested builds in ingestion order with build id, source file, exit code, start time, and target/artifact counts.",
		InputSchema: stdjson.RawMessage(`{"type": "object"}`),
	}, s.handleListBuilds)

	// 3. get_build_info
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_build_info",
		Description: "Return build-level metadata: build id, local exec root, workspace status key/values, exit code, bytes consumed, start time, completed targets, output groups, and labels of failed actions.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				` + buildIDProp + `
			}
		}`),
	}, s.handleGetBuildInfo)

	// 4. get_output_group_artifacts
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_output_group_artifacts",
		Description: "List the artifacts of one output group (e.g. 'default', 'intellij-resolve-java'), including files reached transitively through nested file sets. Each artifact appears once.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				"output_group": {
					"type": "string",
					"description": "Output group name"
				},
				` + buildIDProp + `,
				` + pathPatternProp + `
			},
			"required": ["output_group"]
		}`),
	}, s.handleGetOutputGroupArtifacts)

	// 5. get_target_artifacts
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_target_artifacts",
		Description: "List the artifacts a top-level target reported directly in its output groups. Files only reachable through nested file sets are not included.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				"target": {
					"type": "string",
					"description": "Target label, e.g. '//app:server'"
				},
				` + buildIDProp + `,
				` + pathPatternProp + `
			},
			"required": ["target"]
		}`),
	}, s.handleGetTargetArtifacts)

	// 6. get_all_artifacts
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_all_artifacts",
		Description: "List every output artifact of a build, deduplicated by key.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				` + buildIDProp + `,
				` + pathPatternProp + `,
				"limit": {
					"type": "integer",
					"description": "Max results (default 500)"
				}
			}
		}`),
	}, s.handleGetAllArtifacts)

	// 7. get_artifact_data
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_artifact_data",
		Description: "Query the cross-build artifact index: for each artifact key, the union of output groups and owning top-level targets across every ingested build. Rebuilding a target replaces its previous associations.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {
					"type": "string",
					"description": "Exact artifact key to look up"
				},
				"output_group": {
					"type": "string",
					"description": "Only artifacts in this output group"
				},
				"target": {
					"type": "string",
					"description": "Only artifacts owned by this top-level target"
				},
				` + pathPatternProp + `,
				"limit": {
					"type": "integer",
					"description": "Max results (default 500)"
				}
			}
		}`),
	}, s.handleGetArtifactData)

	// 8. remove_target
	s.mcp.AddTool(&mcp.Tool{
		Name:        "remove_target",
		Description: "Drop a top-level target from the cross-build artifact index. Artifacts no other target owns are deleted.",
		InputSchema: stdjson.RawMessage(`{
			"type": "object",
			"properties": {
				"target": {
					"type": "string",
					"description": "Target label to remove"
				}
			},
			"required": ["target"]
		}`),
	}, s.handleRemoveTarget)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}
