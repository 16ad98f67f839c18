package bep

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"
)

// JSONStream decodes newline-delimited proto3-JSON build events, the format
// written by --build_event_json_file.
type JSONStream struct {
	r        *bufio.Reader
	consumed int64
	line     int
}

// NewJSONStream returns a stream reading one event per line from r.
func NewJSONStream(r io.Reader) *JSONStream {
	return &JSONStream{r: bufio.NewReaderSize(r, 256*1024)}
}

func (s *JSONStream) BytesConsumed() int64 { return s.consumed }

func (s *JSONStream) Next() (*Event, error) {
	for {
		raw, err := s.r.ReadBytes('\n')
		s.consumed += int64(len(raw))
		if len(raw) > 0 {
			s.line++
		}
		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			ev, decErr := decodeJSONEvent(line)
			if decErr != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrDecode, s.line, decErr)
			}
			return ev, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// int64 fields are strings in proto3 JSON, but hand-written streams often
// use bare numbers; both are accepted.
type jsonInt64 int64

func (v *jsonInt64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*v = jsonInt64(n)
	return nil
}

type jsonEvent struct {
	ID              jsonID               `json:"id"`
	LastMessage     bool                 `json:"lastMessage"`
	Started         *jsonStarted         `json:"started"`
	WorkspaceInfo   *jsonWorkspaceInfo   `json:"workspaceInfo"`
	WorkspaceStatus *jsonWorkspaceStatus `json:"workspaceStatus"`
	Configuration   *jsonConfiguration   `json:"configuration"`
	NamedSetOfFiles *jsonNamedSet        `json:"namedSetOfFiles"`
	Completed       *jsonTargetComplete  `json:"completed"`
	Action          *jsonAction          `json:"action"`
	Finished        *jsonFinished        `json:"finished"`
}

type jsonID struct {
	Started         *struct{}          `json:"started"`
	Workspace       *struct{}          `json:"workspace"`
	WorkspaceStatus *struct{}          `json:"workspaceStatus"`
	Configuration   *ConfigurationID   `json:"configuration"`
	NamedSet        *NamedSetOfFilesID `json:"namedSet"`
	TargetCompleted *TargetCompletedID `json:"targetCompleted"`
	ActionCompleted *ActionCompletedID `json:"actionCompleted"`
	BuildFinished   *struct{}          `json:"buildFinished"`
}

type jsonStarted struct {
	UUID             string     `json:"uuid"`
	StartTimeMillis  jsonInt64  `json:"startTimeMillis"`
	StartTime        *time.Time `json:"startTime"`
	BuildToolVersion string     `json:"buildToolVersion"`
	Command          string     `json:"command"`
	WorkingDirectory string     `json:"workingDirectory"`
}

type jsonWorkspaceInfo struct {
	LocalExecRoot string `json:"localExecRoot"`
}

type jsonWorkspaceStatus struct {
	Item []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"item"`
}

type jsonConfiguration struct {
	Mnemonic     string `json:"mnemonic"`
	PlatformName string `json:"platformName"`
	CPU          string `json:"cpu"`
	IsTool       bool   `json:"isTool"`
}

type jsonFile struct {
	PathPrefix        []string  `json:"pathPrefix"`
	Name              string    `json:"name"`
	URI               string    `json:"uri"`
	Contents          []byte    `json:"contents"`
	SymlinkTargetPath string    `json:"symlinkTargetPath"`
	Digest            string    `json:"digest"`
	Length            jsonInt64 `json:"length"`
}

type jsonNamedSet struct {
	Files    []jsonFile          `json:"files"`
	FileSets []NamedSetOfFilesID `json:"fileSets"`
}

type jsonTargetComplete struct {
	Success     bool     `json:"success"`
	Tag         []string `json:"tag"`
	OutputGroup []struct {
		Name       string              `json:"name"`
		FileSets   []NamedSetOfFilesID `json:"fileSets"`
		Incomplete bool                `json:"incomplete"`
	} `json:"outputGroup"`
}

type jsonAction struct {
	Success  bool   `json:"success"`
	Type     string `json:"type"`
	ExitCode int32  `json:"exitCode"`
	Label    string `json:"label"`
}

type jsonFinished struct {
	ExitCode struct {
		Name string `json:"name"`
		Code int32  `json:"code"`
	} `json:"exitCode"`
	FinishTimeMillis jsonInt64 `json:"finishTimeMillis"`
}

func decodeJSONEvent(line []byte) (*Event, error) {
	var je jsonEvent
	if err := json.Unmarshal(line, &je); err != nil {
		return nil, err
	}
	ev := &Event{ID: je.ID.toID(), LastMessage: je.LastMessage}

	if s := je.Started; s != nil {
		ev.Started = &BuildStarted{
			UUID:             s.UUID,
			StartTimeMillis:  int64(s.StartTimeMillis),
			BuildToolVersion: s.BuildToolVersion,
			Command:          s.Command,
			WorkingDirectory: s.WorkingDirectory,
		}
		if s.StartTime != nil {
			ev.Started.StartTime = *s.StartTime
		}
	}
	if w := je.WorkspaceInfo; w != nil {
		ev.WorkspaceInfo = &WorkspaceConfig{LocalExecRoot: w.LocalExecRoot}
	}
	if ws := je.WorkspaceStatus; ws != nil {
		ev.WorkspaceStatus = &WorkspaceStatus{Items: make([]WorkspaceStatusItem, 0, len(ws.Item))}
		for _, it := range ws.Item {
			ev.WorkspaceStatus.Items = append(ev.WorkspaceStatus.Items, WorkspaceStatusItem{Key: it.Key, Value: it.Value})
		}
	}
	if c := je.Configuration; c != nil {
		ev.Configuration = &Configuration{
			Mnemonic:     c.Mnemonic,
			PlatformName: c.PlatformName,
			CPU:          c.CPU,
			IsTool:       c.IsTool,
		}
	}
	if ns := je.NamedSetOfFiles; ns != nil {
		ev.NamedSetOfFiles = &NamedSetOfFiles{
			Files:    make([]*File, 0, len(ns.Files)),
			FileSets: ns.FileSets,
		}
		for _, f := range ns.Files {
			ev.NamedSetOfFiles.Files = append(ev.NamedSetOfFiles.Files, &File{
				PathPrefix:        f.PathPrefix,
				Name:              f.Name,
				URI:               f.URI,
				Contents:          f.Contents,
				SymlinkTargetPath: f.SymlinkTargetPath,
				Digest:            f.Digest,
				Length:            int64(f.Length),
			})
		}
	}
	if tc := je.Completed; tc != nil {
		ev.Completed = &TargetComplete{Success: tc.Success, Tags: tc.Tag}
		for _, og := range tc.OutputGroup {
			ev.Completed.OutputGroup = append(ev.Completed.OutputGroup, OutputGroup{
				Name:       og.Name,
				FileSets:   og.FileSets,
				Incomplete: og.Incomplete,
			})
		}
	}
	if a := je.Action; a != nil {
		ev.Action = &ActionExecuted{Success: a.Success, Type: a.Type, ExitCode: a.ExitCode, Label: a.Label}
	}
	if f := je.Finished; f != nil {
		ev.Finished = &BuildFinished{
			ExitCode:         ExitCode{Name: f.ExitCode.Name, Code: f.ExitCode.Code},
			FinishTimeMillis: int64(f.FinishTimeMillis),
		}
	}
	return ev, nil
}

func (j jsonID) toID() ID {
	switch {
	case j.Started != nil:
		return ID{Kind: KindStarted}
	case j.Workspace != nil:
		return ID{Kind: KindWorkspace}
	case j.WorkspaceStatus != nil:
		return ID{Kind: KindWorkspaceStatus}
	case j.Configuration != nil:
		return ID{Kind: KindConfiguration, Configuration: j.Configuration}
	case j.NamedSet != nil:
		return ID{Kind: KindNamedSet, NamedSet: j.NamedSet}
	case j.TargetCompleted != nil:
		return ID{Kind: KindTargetCompleted, TargetCompleted: j.TargetCompleted}
	case j.ActionCompleted != nil:
		return ID{Kind: KindActionCompleted, ActionCompleted: j.ActionCompleted}
	case j.BuildFinished != nil:
		return ID{Kind: KindBuildFinished}
	default:
		return ID{Kind: KindOther}
	}
}
