// Package beptest builds build events and encodes them in the JSON and
// binary BEP framings for tests.
package beptest

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/segmentio/encoding/json"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

// ExecRoot is the exec root used by FileAt URIs.
const ExecRoot = "/exec/root"

func Started(uuid string, startMillis int64) *bep.Event {
	return &bep.Event{
		ID:      bep.ID{Kind: bep.KindStarted},
		Started: &bep.BuildStarted{UUID: uuid, StartTimeMillis: startMillis},
	}
}

func Workspace(execRoot string) *bep.Event {
	return &bep.Event{
		ID:            bep.ID{Kind: bep.KindWorkspace},
		WorkspaceInfo: &bep.WorkspaceConfig{LocalExecRoot: execRoot},
	}
}

// WorkspaceStatus takes alternating keys and values.
func WorkspaceStatus(kv ...string) *bep.Event {
	ws := &bep.WorkspaceStatus{}
	for i := 0; i+1 < len(kv); i += 2 {
		ws.Items = append(ws.Items, bep.WorkspaceStatusItem{Key: kv[i], Value: kv[i+1]})
	}
	return &bep.Event{ID: bep.ID{Kind: bep.KindWorkspaceStatus}, WorkspaceStatus: ws}
}

func Configuration(id, mnemonic string) *bep.Event {
	return &bep.Event{
		ID:            bep.ID{Kind: bep.KindConfiguration, Configuration: &bep.ConfigurationID{ID: id}},
		Configuration: &bep.Configuration{Mnemonic: mnemonic},
	}
}

// FileAt returns a local file record whose name is the build-relative path.
func FileAt(name string) *bep.File {
	return &bep.File{Name: name, URI: "file://" + ExecRoot + "/" + name}
}

// OutFile returns a local file record under bazel-out/<mnemonic>/bin.
func OutFile(mnemonic, name string) *bep.File {
	prefix := []string{"bazel-out", mnemonic, "bin"}
	return &bep.File{
		PathPrefix: prefix,
		Name:       name,
		URI:        "file://" + ExecRoot + "/bazel-out/" + mnemonic + "/bin/" + name,
	}
}

func NamedSet(id string, files []*bep.File, children ...string) *bep.Event {
	ns := &bep.NamedSetOfFiles{Files: files}
	for _, c := range children {
		ns.FileSets = append(ns.FileSets, bep.NamedSetOfFilesID{ID: c})
	}
	return &bep.Event{
		ID:              bep.ID{Kind: bep.KindNamedSet, NamedSet: &bep.NamedSetOfFilesID{ID: id}},
		NamedSetOfFiles: ns,
	}
}

// Group builds an output group referencing the given set ids.
func Group(name string, sets ...string) bep.OutputGroup {
	og := bep.OutputGroup{Name: name}
	for _, s := range sets {
		og.FileSets = append(og.FileSets, bep.NamedSetOfFilesID{ID: s})
	}
	return og
}

func TargetCompleted(label, configID string, groups ...bep.OutputGroup) *bep.Event {
	return &bep.Event{
		ID: bep.ID{Kind: bep.KindTargetCompleted, TargetCompleted: &bep.TargetCompletedID{
			Label:         label,
			Configuration: &bep.ConfigurationID{ID: configID},
		}},
		Completed: &bep.TargetComplete{Success: true, OutputGroup: groups},
	}
}

func ActionCompleted(label string, success bool) *bep.Event {
	return &bep.Event{
		ID: bep.ID{Kind: bep.KindActionCompleted, ActionCompleted: &bep.ActionCompletedID{
			Label:         label,
			PrimaryOutput: "bazel-out/k8-fastbuild/bin/out",
		}},
		Action: &bep.ActionExecuted{Success: success, Label: label},
	}
}

func BuildFinished(code int32) *bep.Event {
	name := "SUCCESS"
	if code != 0 {
		name = "BUILD_FAILURE"
	}
	return &bep.Event{
		ID:       bep.ID{Kind: bep.KindBuildFinished},
		Finished: &bep.BuildFinished{ExitCode: bep.ExitCode{Name: name, Code: code}},
	}
}

// Progress returns an event of a kind the artifact model ignores.
func Progress() *bep.Event {
	return &bep.Event{ID: bep.ID{Kind: bep.KindOther}}
}

// EncodeJSON renders events as newline-delimited proto3 JSON.
func EncodeJSON(t testing.TB, events ...*bep.Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		b, err := json.Marshal(jsonEvent(ev))
		if err != nil {
			t.Fatal(err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// EncodeBinary renders events as varint-delimited protobuf messages.
func EncodeBinary(events ...*bep.Event) []byte {
	var out []byte
	for _, ev := range events {
		msg := protoEvent(ev)
		out = protowire.AppendVarint(out, uint64(len(msg)))
		out = append(out, msg...)
	}
	return out
}

// WriteFile writes events to dir/name, choosing the framing from the name.
func WriteFile(t testing.TB, dir, name string, events ...*bep.Event) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	if bep.FormatFromName(name) == bep.FormatJSON {
		data = EncodeJSON(t, events...)
	} else {
		data = EncodeBinary(events...)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// Scenario returns a small complete build: one target with one file in the
// default output group.
func Scenario(buildID string) []*bep.Event {
	return []*bep.Event{
		Started(buildID, 1700000000000),
		WorkspaceStatus("key", "val"),
		Configuration("cfg1", "fastbuild"),
		NamedSet("s1", []*bep.File{FileAt("out/a.txt")}),
		TargetCompleted("//x:y", "cfg1", Group("default", "s1")),
		BuildFinished(0),
	}
}

type obj = map[string]any

func jsonEvent(ev *bep.Event) obj {
	id := obj{}
	switch ev.ID.Kind {
	case bep.KindStarted:
		id["started"] = obj{}
	case bep.KindWorkspace:
		id["workspace"] = obj{}
	case bep.KindWorkspaceStatus:
		id["workspaceStatus"] = obj{}
	case bep.KindBuildFinished:
		id["buildFinished"] = obj{}
	case bep.KindConfiguration:
		id["configuration"] = obj{"id": ev.ID.Configuration.ID}
	case bep.KindNamedSet:
		id["namedSet"] = obj{"id": ev.ID.NamedSet.ID}
	case bep.KindTargetCompleted:
		tc := ev.ID.TargetCompleted
		id["targetCompleted"] = obj{"label": tc.Label, "configuration": obj{"id": tc.ConfigurationID()}}
	case bep.KindActionCompleted:
		ac := ev.ID.ActionCompleted
		id["actionCompleted"] = obj{"label": ac.Label, "primaryOutput": ac.PrimaryOutput}
	default:
		id["progress"] = obj{"opaqueCount": 1}
	}
	out := obj{"id": id}
	if s := ev.Started; s != nil {
		out["started"] = obj{"uuid": s.UUID, "startTimeMillis": strconv.FormatInt(s.StartTimeMillis, 10)}
	}
	if w := ev.WorkspaceInfo; w != nil {
		out["workspaceInfo"] = obj{"localExecRoot": w.LocalExecRoot}
	}
	if ws := ev.WorkspaceStatus; ws != nil {
		items := []obj{}
		for _, it := range ws.Items {
			items = append(items, obj{"key": it.Key, "value": it.Value})
		}
		out["workspaceStatus"] = obj{"item": items}
	}
	if c := ev.Configuration; c != nil {
		out["configuration"] = obj{"mnemonic": c.Mnemonic}
	}
	if ns := ev.NamedSetOfFiles; ns != nil {
		files := []obj{}
		for _, f := range ns.Files {
			jf := obj{"name": f.Name}
			if f.URI != "" {
				jf["uri"] = f.URI
			}
			if len(f.PathPrefix) > 0 {
				jf["pathPrefix"] = f.PathPrefix
			}
			if f.Digest != "" {
				jf["digest"] = f.Digest
			}
			if f.Length != 0 {
				jf["length"] = strconv.FormatInt(f.Length, 10)
			}
			files = append(files, jf)
		}
		sets := []obj{}
		for _, s := range ns.FileSets {
			sets = append(sets, obj{"id": s.ID})
		}
		out["namedSetOfFiles"] = obj{"files": files, "fileSets": sets}
	}
	if tc := ev.Completed; tc != nil {
		groups := []obj{}
		for _, og := range tc.OutputGroup {
			sets := []obj{}
			for _, s := range og.FileSets {
				sets = append(sets, obj{"id": s.ID})
			}
			groups = append(groups, obj{"name": og.Name, "fileSets": sets})
		}
		out["completed"] = obj{"success": tc.Success, "outputGroup": groups}
	}
	if a := ev.Action; a != nil {
		out["action"] = obj{"success": a.Success, "label": a.Label, "exitCode": a.ExitCode}
	}
	if f := ev.Finished; f != nil {
		out["finished"] = obj{"exitCode": obj{"name": f.ExitCode.Name, "code": f.ExitCode.Code}}
	}
	return out
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func stringMessage(num protowire.Number, s string) []byte {
	return appendString(nil, num, s)
}

func protoEvent(ev *bep.Event) []byte {
	var id []byte
	switch ev.ID.Kind {
	case bep.KindStarted:
		id = appendMessage(id, 3, nil)
	case bep.KindWorkspace:
		id = appendMessage(id, 23, nil)
	case bep.KindWorkspaceStatus:
		id = appendMessage(id, 14, nil)
	case bep.KindBuildFinished:
		id = appendMessage(id, 5, nil)
	case bep.KindConfiguration:
		id = appendMessage(id, 15, stringMessage(1, ev.ID.Configuration.ID))
	case bep.KindNamedSet:
		id = appendMessage(id, 13, stringMessage(1, ev.ID.NamedSet.ID))
	case bep.KindTargetCompleted:
		tc := ev.ID.TargetCompleted
		var m []byte
		m = appendString(m, 1, tc.Label)
		m = appendMessage(m, 3, stringMessage(1, tc.ConfigurationID()))
		id = appendMessage(id, 6, m)
	case bep.KindActionCompleted:
		ac := ev.ID.ActionCompleted
		var m []byte
		m = appendString(m, 1, ac.PrimaryOutput)
		m = appendString(m, 3, ac.Label)
		id = appendMessage(id, 7, m)
	default:
		// ProgressId{opaque_count = 1}
		id = appendMessage(id, 2, appendVarint(nil, 1, 1))
	}
	out := appendMessage(nil, 1, id)

	if s := ev.Started; s != nil {
		var m []byte
		m = appendString(m, 1, s.UUID)
		m = appendVarint(m, 2, uint64(s.StartTimeMillis))
		out = appendMessage(out, 5, m)
	}
	if w := ev.WorkspaceInfo; w != nil {
		out = appendMessage(out, 25, stringMessage(1, w.LocalExecRoot))
	}
	if ws := ev.WorkspaceStatus; ws != nil {
		var m []byte
		for _, it := range ws.Items {
			var item []byte
			item = appendString(item, 1, it.Key)
			item = appendString(item, 2, it.Value)
			m = appendMessage(m, 1, item)
		}
		out = appendMessage(out, 16, m)
	}
	if c := ev.Configuration; c != nil {
		out = appendMessage(out, 17, stringMessage(1, c.Mnemonic))
	}
	if ns := ev.NamedSetOfFiles; ns != nil {
		var m []byte
		for _, f := range ns.Files {
			var fm []byte
			for _, p := range f.PathPrefix {
				fm = appendString(fm, 8, p)
			}
			fm = appendString(fm, 1, f.Name)
			if f.URI != "" {
				fm = appendString(fm, 2, f.URI)
			}
			if f.Digest != "" {
				fm = appendString(fm, 4, f.Digest)
			}
			if f.Length != 0 {
				fm = appendVarint(fm, 5, uint64(f.Length))
			}
			m = appendMessage(m, 1, fm)
		}
		for _, s := range ns.FileSets {
			m = appendMessage(m, 2, stringMessage(1, s.ID))
		}
		out = appendMessage(out, 15, m)
	}
	if tc := ev.Completed; tc != nil {
		var m []byte
		m = appendBool(m, 1, tc.Success)
		for _, og := range tc.OutputGroup {
			var gm []byte
			gm = appendString(gm, 1, og.Name)
			for _, s := range og.FileSets {
				gm = appendMessage(gm, 3, stringMessage(1, s.ID))
			}
			m = appendMessage(m, 2, gm)
		}
		out = appendMessage(out, 8, m)
	}
	if a := ev.Action; a != nil {
		var m []byte
		m = appendBool(m, 1, a.Success)
		m = appendVarint(m, 2, uint64(int64(a.ExitCode)))
		m = appendString(m, 5, a.Label)
		out = appendMessage(out, 7, m)
	}
	if f := ev.Finished; f != nil {
		var ec []byte
		ec = appendString(ec, 1, f.ExitCode.Name)
		ec = appendVarint(ec, 2, uint64(int64(f.ExitCode.Code)))
		out = appendMessage(out, 14, appendMessage(nil, 3, ec))
	}
	return out
}
