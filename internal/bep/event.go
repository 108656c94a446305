// Package bep models the subset of Bazel's Build Event Protocol that the
// bridge consumes and decodes it from the build_event_stream.BuildEvent wire
// format.
package bep

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// BuildEvent is one decoded BEP message. Payload is nil for event kinds the
// bridge does not consume.
type BuildEvent struct {
	ID          EventID
	Payload     Payload
	LastMessage bool
}

// EventID carries the identifying fields of the BEP event id that the bridge uses.
type EventID struct {
	NamedSet      string
	Label         string
	Aspect        string
	PrimaryOutput string
	ProgressCount int32
}

// Payload is implemented by the event variants below.
type Payload interface {
	isPayload()
}

type Started struct {
	UUID               string
	StartTime          time.Time
	Command            string
	WorkspaceDirectory string
	WorkingDirectory   string
	BuildToolVersion   string
}

type Progress struct {
	Stdout string
	Stderr string
}

type NamedSetOfFiles struct {
	Files    []File
	FileSets []string
}

type OutputGroup struct {
	Name        string
	FileSets    []string
	InlineFiles []File
	Incomplete  bool
}

type TargetCompleted struct {
	Label        string
	Aspect       string
	Success      bool
	OutputGroups []OutputGroup
	Tags         []string
}

type ActionExecuted struct {
	Label              string
	Type               string
	Success            bool
	ExitCode           int32
	Stdout             *File
	Stderr             *File
	PrimaryOutput      *File
	ActionMetadataLogs []File
	CommandLine        []string
}

type Aborted struct {
	Label       string
	Reason      AbortReason
	Description string
}

type Finished struct {
	ExitCode     int32
	ExitCodeName string
	FinishTime   time.Time
}

func (*Started) isPayload()         {}
func (*Progress) isPayload()        {}
func (*NamedSetOfFiles) isPayload() {}
func (*TargetCompleted) isPayload() {}
func (*ActionExecuted) isPayload()  {}
func (*Aborted) isPayload()         {}
func (*Finished) isPayload()        {}

// AbortReason mirrors build_event_stream.Aborted.AbortReason.
type AbortReason int32

const (
	AbortUnknown                  AbortReason = 0
	AbortUserInterrupted          AbortReason = 1
	AbortTimeOut                  AbortReason = 2
	AbortRemoteEnvironmentFailure AbortReason = 3
	AbortInternal                 AbortReason = 4
	AbortLoadingFailure           AbortReason = 5
	AbortAnalysisFailure          AbortReason = 6
	AbortSkipped                  AbortReason = 7
	AbortNoAnalyze                AbortReason = 8
	AbortNoBuild                  AbortReason = 9
	AbortIncomplete               AbortReason = 10
	AbortOutOfMemory              AbortReason = 11
)

var abortReasonNames = map[AbortReason]string{
	AbortUnknown:                  "UNKNOWN",
	AbortUserInterrupted:          "USER_INTERRUPTED",
	AbortTimeOut:                  "TIME_OUT",
	AbortRemoteEnvironmentFailure: "REMOTE_ENVIRONMENT_FAILURE",
	AbortInternal:                 "INTERNAL",
	AbortLoadingFailure:           "LOADING_FAILURE",
	AbortAnalysisFailure:          "ANALYSIS_FAILURE",
	AbortSkipped:                  "SKIPPED",
	AbortNoAnalyze:                "NO_ANALYZE",
	AbortNoBuild:                  "NO_BUILD",
	AbortIncomplete:               "INCOMPLETE",
	AbortOutOfMemory:              "OUT_OF_MEMORY",
}

func (r AbortReason) String() string {
	if name, ok := abortReasonNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// File is a build_event_stream.File reference.
type File struct {
	Name       string
	URI        string
	PathPrefix []string
}

// ResolveURI returns the file's URI. Files reported without a URI are located
// under execRoot using their path prefix and name.
func (f File) ResolveURI(execRoot string) string {
	if f.URI != "" {
		return f.URI
	}
	p := path.Join(append(append([]string(nil), f.PathPrefix...), f.Name)...)
	if !filepath.IsAbs(p) && execRoot != "" {
		p = filepath.Join(execRoot, p)
	}
	return "file://" + filepath.ToSlash(p)
}

// LocalPath returns the file system path of a file:// URI, or "" for other schemes.
func LocalPath(uri string) string {
	rest, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return ""
	}
	return filepath.FromSlash(rest)
}
