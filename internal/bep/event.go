package bep

import (
	"fmt"
	"time"
)

// Kind identifies which event a BuildEvent id refers to. Only the kinds the
// artifact model consumes are distinguished; everything else is KindOther.
type Kind int

const (
	KindOther Kind = iota
	KindStarted
	KindWorkspace
	KindWorkspaceStatus
	KindConfiguration
	KindNamedSet
	KindTargetCompleted
	KindActionCompleted
	KindBuildFinished
)

var kindNames = map[Kind]string{
	KindOther:           "other",
	KindStarted:         "started",
	KindWorkspace:       "workspace",
	KindWorkspaceStatus: "workspace_status",
	KindConfiguration:   "configuration",
	KindNamedSet:        "named_set",
	KindTargetCompleted: "target_completed",
	KindActionCompleted: "action_completed",
	KindBuildFinished:   "build_finished",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ID is the tagged id of an event. Exactly one of the kind-specific
// pointers is set for kinds that carry keys; Started, Workspace,
// WorkspaceStatus and BuildFinished ids carry none.
type ID struct {
	Kind            Kind
	Configuration   *ConfigurationID
	NamedSet        *NamedSetOfFilesID
	TargetCompleted *TargetCompletedID
	ActionCompleted *ActionCompletedID
}

// ConfigurationID names a build configuration.
type ConfigurationID struct {
	ID string `json:"id"`
}

// NamedSetOfFilesID names a file set within one stream.
type NamedSetOfFilesID struct {
	ID string `json:"id"`
}

// TargetCompletedID identifies a completed (target, configuration) pair.
type TargetCompletedID struct {
	Label         string           `json:"label"`
	Aspect        string           `json:"aspect,omitempty"`
	Configuration *ConfigurationID `json:"configuration,omitempty"`
}

// ConfigurationID returns the configuration id or "" when absent.
func (t *TargetCompletedID) ConfigurationID() string {
	if t == nil || t.Configuration == nil {
		return ""
	}
	return t.Configuration.ID
}

// ActionCompletedID identifies an executed action by its primary output.
type ActionCompletedID struct {
	PrimaryOutput string           `json:"primaryOutput"`
	Label         string           `json:"label"`
	Configuration *ConfigurationID `json:"configuration,omitempty"`
}

// Event is one record of the build event stream.
type Event struct {
	ID ID

	Started         *BuildStarted
	WorkspaceInfo   *WorkspaceConfig
	WorkspaceStatus *WorkspaceStatus
	Configuration   *Configuration
	NamedSetOfFiles *NamedSetOfFiles
	Completed       *TargetComplete
	Action          *ActionExecuted
	Finished        *BuildFinished

	LastMessage bool
}

// BuildStarted is the payload of the first event of every build.
type BuildStarted struct {
	UUID             string
	StartTimeMillis  int64
	StartTime        time.Time
	BuildToolVersion string
	Command          string
	WorkingDirectory string
}

// StartedAt returns the build start time, preferring the millisecond field
// and falling back to the timestamp field newer build tools emit.
func (s *BuildStarted) StartedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.StartTimeMillis != 0 {
		return time.UnixMilli(s.StartTimeMillis)
	}
	return s.StartTime
}

// WorkspaceConfig carries workspace-level paths.
type WorkspaceConfig struct {
	LocalExecRoot string
}

// WorkspaceStatus is the key/value output of the workspace status command.
type WorkspaceStatus struct {
	Items []WorkspaceStatusItem
}

// WorkspaceStatusItem is one workspace status key/value pair.
type WorkspaceStatusItem struct {
	Key   string
	Value string
}

// Configuration describes a build configuration.
type Configuration struct {
	Mnemonic     string
	PlatformName string
	CPU          string
	IsTool       bool
}

// NamedSetOfFiles is a node of the file set DAG: direct files plus
// references to other sets.
type NamedSetOfFiles struct {
	Files    []*File
	FileSets []NamedSetOfFilesID
}

// File is a single reported output file.
type File struct {
	PathPrefix        []string
	Name              string
	URI               string
	Contents          []byte
	SymlinkTargetPath string
	Digest            string
	Length            int64
}

// TargetComplete is the payload of a TargetCompleted event.
type TargetComplete struct {
	Success     bool
	Tags        []string
	OutputGroup []OutputGroup
}

// OutputGroup names a group of outputs and the file sets that make it up.
type OutputGroup struct {
	Name       string
	FileSets   []NamedSetOfFilesID
	Incomplete bool
}

// FileSetIDs returns the referenced set ids in order.
func (g *OutputGroup) FileSetIDs() []string {
	ids := make([]string, 0, len(g.FileSets))
	for _, fs := range g.FileSets {
		ids = append(ids, fs.ID)
	}
	return ids
}

// ActionExecuted is the payload of an ActionCompleted event.
type ActionExecuted struct {
	Success  bool
	Type     string
	ExitCode int32
	Label    string
}

// BuildFinished is the payload of the final build event.
type BuildFinished struct {
	ExitCode         ExitCode
	FinishTimeMillis int64
}

// ExitCode is the named exit status of the build.
type ExitCode struct {
	Name string
	Code int32
}
