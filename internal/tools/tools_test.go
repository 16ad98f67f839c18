package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/segmentio/encoding/json"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
	"github.com/DeusData/bep-artifacts-mcp/internal/bep/beptest"
	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/throttle"
)

type handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args string) (string, bool) {
	t.Helper()
	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: []byte(args)}}
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned Go error: %v", err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	return text, res.IsError
}

func callJSON(t *testing.T, h handler, args string, v any) {
	t.Helper()
	text, isErr := call(t, h, args)
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
}

// javaBuild is a build of //app:app producing a jar plus a transitive
// dependency jar, and a sources group.
func javaBuild(id string) []*bep.Event {
	return []*bep.Event{
		beptest.Started(id, 1700000000000),
		beptest.Workspace(beptest.ExecRoot),
		beptest.WorkspaceStatus("BUILD_USER", "ci"),
		beptest.Configuration("cfg", "k8-fastbuild"),
		beptest.NamedSet("deps", []*bep.File{beptest.OutFile("k8-fastbuild", "lib/dep.jar")}),
		beptest.NamedSet("app", []*bep.File{beptest.OutFile("k8-fastbuild", "app/app.jar")}, "deps"),
		beptest.NamedSet("srcs", []*bep.File{beptest.OutFile("k8-fastbuild", "app/app-src.jar")}),
		beptest.TargetCompleted("//app:app", "cfg",
			beptest.Group("default", "app"), beptest.Group("sources", "srcs")),
		beptest.ActionCompleted("//app:lint", false),
		beptest.BuildFinished(0),
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	beptest.WriteFile(t, dir, "java.bep", javaBuild("build-1")...)
	srv := NewServer(bepparser.Options{Throttle: throttle.New(2)})
	var resp map[string]any
	callJSON(t, srv.handleIngestBEP, `{"path":"`+dir+`"}`, &resp)
	if resp["parsed"].(float64) != 1 {
		t.Fatalf("expected one parsed file: %v", resp)
	}
	return srv, dir
}

func TestIngestAndListBuilds(t *testing.T) {
	srv, _ := newTestServer(t)

	var builds []struct {
		BuildID   string `json:"build_id"`
		ExitCode  int    `json:"exit_code"`
		Targets   int    `json:"targets"`
		Artifacts int    `json:"artifacts"`
	}
	callJSON(t, srv.handleListBuilds, `{}`, &builds)
	if len(builds) != 1 {
		t.Fatalf("got %d builds", len(builds))
	}
	b := builds[0]
	if b.BuildID != "build-1" || b.ExitCode != 0 || b.Targets != 1 || b.Artifacts != 3 {
		t.Errorf("unexpected build summary %+v", b)
	}
}

func TestIngestUnchangedFileIsSkipped(t *testing.T) {
	srv, dir := newTestServer(t)
	var resp struct {
		Files []struct {
			Status string `json:"status"`
		} `json:"files"`
	}
	callJSON(t, srv.handleIngestBEP, `{"path":"`+dir+`"}`, &resp)
	if len(resp.Files) != 1 || resp.Files[0].Status != "unchanged" {
		t.Errorf("unexpected re-ingest result %+v", resp)
	}
}

func TestIngestErrors(t *testing.T) {
	srv := NewServer(bepparser.Options{})
	if _, isErr := call(t, srv.handleIngestBEP, `{}`); !isErr {
		t.Error("missing path should be a tool error")
	}
	if _, isErr := call(t, srv.handleIngestBEP, `{"path":"/nonexistent/file.bep"}`); !isErr {
		t.Error("missing file should be a tool error")
	}
	if _, isErr := call(t, srv.handleGetBuildInfo, `{}`); !isErr {
		t.Error("build info before any ingest should be a tool error")
	}
}

func TestGetBuildInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	var info struct {
		BuildID           string            `json:"build_id"`
		LocalExecRoot     string            `json:"local_exec_root"`
		WorkspaceStatus   map[string]string `json:"workspace_status"`
		Targets           []string          `json:"targets"`
		OutputGroups      []string          `json:"output_groups"`
		TargetsWithErrors []string          `json:"targets_with_errors"`
	}
	callJSON(t, srv.handleGetBuildInfo, `{"build_id":"build-1"}`, &info)
	if info.BuildID != "build-1" || info.LocalExecRoot != beptest.ExecRoot {
		t.Errorf("unexpected identity %+v", info)
	}
	if diff := cmp.Diff(map[string]string{"BUILD_USER": "ci"}, info.WorkspaceStatus); diff != "" {
		t.Errorf("workspace status (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"default", "sources"}, info.OutputGroups); diff != "" {
		t.Errorf("output groups (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"//app:lint"}, info.TargetsWithErrors); diff != "" {
		t.Errorf("targets with errors (-want +got):\n%s", diff)
	}

	if text, isErr := call(t, srv.handleGetBuildInfo, `{"build_id":"nope"}`); !isErr || !strings.Contains(text, "not found") {
		t.Errorf("unknown build should be a not-found error, got %q", text)
	}
}

type artifactList struct {
	Artifacts []artifactView `json:"artifacts"`
}

func artifactKeys(l artifactList) []string {
	var out []string
	for _, a := range l.Artifacts {
		out = append(out, a.Key)
	}
	return out
}

func TestGetOutputGroupArtifacts(t *testing.T) {
	srv, _ := newTestServer(t)
	var got artifactList
	callJSON(t, srv.handleGetOutputGroupArtifacts, `{"output_group":"default"}`, &got)
	want := []string{"k8-fastbuild/bin/lib/dep.jar", "k8-fastbuild/bin/app/app.jar"}
	if diff := cmp.Diff(want, artifactKeys(got)); diff != "" {
		t.Errorf("default group (-want +got):\n%s", diff)
	}
	if got.Artifacts[0].Kind != "local" || !strings.HasPrefix(got.Artifacts[0].Path, beptest.ExecRoot) {
		t.Errorf("unexpected artifact view %+v", got.Artifacts[0])
	}
	if got.Artifacts[0].Mnemonic != "k8-fastbuild" {
		t.Errorf("mnemonic = %q", got.Artifacts[0].Mnemonic)
	}

	got = artifactList{}
	callJSON(t, srv.handleGetOutputGroupArtifacts, `{"output_group":"default","path_pattern":"*/bin/app/*"}`, &got)
	if diff := cmp.Diff([]string{"k8-fastbuild/bin/app/app.jar"}, artifactKeys(got)); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}

	if _, isErr := call(t, srv.handleGetOutputGroupArtifacts, `{"output_group":"default","path_pattern":"["}`); !isErr {
		t.Error("bad glob should be a tool error")
	}
	if _, isErr := call(t, srv.handleGetOutputGroupArtifacts, `{}`); !isErr {
		t.Error("missing output_group should be a tool error")
	}
}

func TestGetTargetArtifacts(t *testing.T) {
	srv, _ := newTestServer(t)
	var got artifactList
	callJSON(t, srv.handleGetTargetArtifacts, `{"target":"//app:app"}`, &got)
	want := []string{"k8-fastbuild/bin/app/app.jar", "k8-fastbuild/bin/app/app-src.jar"}
	if diff := cmp.Diff(want, artifactKeys(got)); diff != "" {
		t.Errorf("direct artifacts (-want +got):\n%s", diff)
	}
}

func TestGetAllArtifactsLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	var got struct {
		Total     int            `json:"total"`
		Artifacts []artifactView `json:"artifacts"`
	}
	callJSON(t, srv.handleGetAllArtifacts, `{"limit":2}`, &got)
	if got.Total != 3 || len(got.Artifacts) != 2 {
		t.Errorf("total=%d returned=%d, want 3/2", got.Total, len(got.Artifacts))
	}
}

func TestArtifactIndexAcrossBuilds(t *testing.T) {
	srv, dir := newTestServer(t)

	// A second build of another target that shares the dependency jar.
	beptest.WriteFile(t, dir, "second.bep",
		beptest.Started("build-2", 1700000001000),
		beptest.Configuration("cfg", "k8-fastbuild"),
		beptest.NamedSet("s", []*bep.File{beptest.OutFile("k8-fastbuild", "lib/dep.jar")}),
		beptest.TargetCompleted("//tool:tool", "cfg", beptest.Group("runtime", "s")),
	)
	var resp map[string]any
	callJSON(t, srv.handleIngestBEP, `{"path":"`+dir+`"}`, &resp)

	var dep artifactDataView
	callJSON(t, srv.handleGetArtifactData, `{"key":"k8-fastbuild/bin/lib/dep.jar"}`, &dep)
	if diff := cmp.Diff([]string{"//app:app", "//tool:tool"}, dep.TopLevelTargets); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"default", "runtime"}, dep.OutputGroups); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}

	var sel struct {
		Total int `json:"total"`
	}
	callJSON(t, srv.handleGetArtifactData, `{"target":"//app:app","output_group":"sources"}`, &sel)
	if sel.Total != 1 {
		t.Errorf("sources of //app:app = %d, want 1", sel.Total)
	}

	var removed struct {
		Deleted int `json:"deleted_artifacts"`
	}
	callJSON(t, srv.handleRemoveTarget, `{"target":"//app:app"}`, &removed)
	if removed.Deleted != 2 {
		t.Errorf("deleted = %d, want 2 (app.jar and app-src.jar)", removed.Deleted)
	}
	if srv.Index().Len() != 1 {
		t.Errorf("index has %d entries, want 1", srv.Index().Len())
	}
	if _, isErr := call(t, srv.handleGetArtifactData, `{"key":"k8-fastbuild/bin/app/app.jar"}`); !isErr {
		t.Error("removed artifact should be not found")
	}
}

func TestPathFilter(t *testing.T) {
	f, err := pathFilter("")
	if err != nil || f != nil {
		t.Fatalf("empty pattern should give nil filter, got %v", err)
	}
	f, err = pathFilter("*/bin/*.jar")
	if err != nil {
		t.Fatal(err)
	}
	if !f("k8/bin/a.jar") || f("k8/bin/sub/a.jar") || f("k8/bin/a.txt") {
		t.Error("unexpected glob behaviour")
	}
	if _, err := pathFilter("[a-"); err == nil {
		t.Error("expected bad pattern error")
	}
}

func TestBuildTableReplacesAndOrders(t *testing.T) {
	bt := newBuildTable()
	bt.put(&build{ID: "a"})
	bt.put(&build{ID: "b"})
	bt.put(&build{ID: "a", Path: "new"})
	latest, err := bt.get("")
	if err != nil || latest.ID != "a" || latest.Path != "new" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	var ids []string
	for _, b := range bt.list() {
		ids = append(ids, b.ID)
	}
	if diff := cmp.Diff([]string{"b", "a"}, ids); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}
