// Package ingest drives the build lifecycle from the build event stream and
// feeds the output resolver and the diagnostics pipeline of the current build.
package ingest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"bazelbsp/internal/bep"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/process"
)

// TaskID identifies one build lifecycle towards the client.
type TaskID string

// Sink receives the notifications produced while ingesting a build. Calls are
// made with the ingestor's lock held and must not call back into it.
type Sink interface {
	diagnostics.Publisher
	OnTaskStart(id TaskID, start time.Time)
	OnTaskFinish(id TaskID, status process.Status, finish time.Time)
	OnBuildOutputReady(out *outputs.Output)
	OnShowMessage(msg string)
}

type Options struct {
	Sink          Sink
	Sources       diagnostics.SourceResolver
	WorkspaceRoot string
	ExecRoot      string
	Log           logr.Logger
}

// Ingestor tracks at most one build at a time. It is safe for concurrent use,
// but events of one build must be handed to it in stream order.
type Ingestor struct {
	sink      Sink
	sources   diagnostics.SourceResolver
	workspace string
	log       logr.Logger

	mu        sync.Mutex
	execRoot  string
	requested []string
	task      *TaskID
	resolver  *outputs.Resolver
	pipeline  *diagnostics.Pipeline
	output    *outputs.Output
	newTaskID func() TaskID
}

func New(opts Options) *Ingestor {
	in := &Ingestor{
		sink:      opts.Sink,
		sources:   opts.Sources,
		workspace: opts.WorkspaceRoot,
		execRoot:  opts.ExecRoot,
		log:       opts.Log.WithName("bep-ingestor"),
		newTaskID: func() TaskID { return TaskID(uuid.NewString()) },
	}
	in.resetSession()
	return in
}

// SetRequestedTargets records the targets of the next build.
func (in *Ingestor) SetRequestedTargets(targets []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.requested = slices.Clone(targets)
}

// SetExecRoot sets the directory tool-relative output paths resolve against.
// It applies from the next build on.
func (in *Ingestor) SetExecRoot(execRoot string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.execRoot = execRoot
}

// Output returns the output snapshot of the last finished build, or nil.
func (in *Ingestor) Output() *outputs.Output {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.output
}

// CurrentTask returns the id of the build in progress.
func (in *Ingestor) CurrentTask() (TaskID, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.task == nil {
		return "", false
	}
	return *in.task, true
}

// HandleFrame decodes and handles one encoded build event. Malformed events
// are logged and skipped. It reports whether the event was the last one of
// the stream.
func (in *Ingestor) HandleFrame(b []byte) bool {
	ev, err := bep.Decode(b)
	if err != nil {
		in.log.Error(err, "skipping malformed build event", "size", len(b))
		return false
	}
	in.HandleEvent(ev)
	return ev.LastMessage
}

func (in *Ingestor) HandleEvent(ev bep.BuildEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch p := ev.Payload.(type) {
	case *bep.Started:
		in.started(p)
	case *bep.NamedSetOfFiles:
		in.resolver.StoreNamedSet(ev.ID.NamedSet, namedSet(p, in.execRoot))
	case *bep.TargetCompleted:
		in.resolver.StoreTargetOutputGroups(p.Label, outputGroups(p.OutputGroups, in.execRoot))
		in.pipeline.TargetCompleted(p)
	case *bep.ActionExecuted:
		in.pipeline.ActionExecuted(p)
	case *bep.Progress:
		in.pipeline.Progress(p)
	case *bep.Aborted:
		in.aborted(p, ev.LastMessage)
	case *bep.Finished:
		in.finished(p)
	case nil:
		// event kinds the bridge does not consume
	}
}

func (in *Ingestor) started(p *bep.Started) {
	if in.task != nil {
		in.log.Info("ignoring build start while another build is tracked",
			"tracked", string(*in.task), "uuid", p.UUID)
		return
	}
	id := in.newTaskID()
	in.task = &id
	in.resetSession()
	in.log.V(1).Info("build started", "task", string(id), "uuid", p.UUID, "command", p.Command)
	in.sink.OnTaskStart(id, p.StartTime)
}

func (in *Ingestor) aborted(p *bep.Aborted, last bool) {
	if p.Reason != bep.AbortNoBuild {
		msg := fmt.Sprintf("Build aborted (%s)", p.Reason)
		if p.Label != "" {
			msg = fmt.Sprintf("Build of %s aborted (%s)", p.Label, p.Reason)
		}
		if p.Description != "" {
			msg += ": " + p.Description
		}
		in.sink.OnShowMessage(msg)
	}
	if !last {
		return
	}
	// The stream ends without a Finished event.
	status := process.StatusError
	if p.Reason == bep.AbortUserInterrupted {
		status = process.StatusCancelled
	}
	in.finish(status, time.Now())
}

func (in *Ingestor) finished(p *bep.Finished) {
	in.finish(process.StatusFromExitCode(int(p.ExitCode)), p.FinishTime)
}

func (in *Ingestor) finish(status process.Status, at time.Time) {
	if in.task == nil {
		in.log.Info("ignoring build finish without a tracked build", "status", status.String())
		return
	}
	id := *in.task
	in.task = nil
	in.log.V(1).Info("build finished", "task", string(id), "status", status.String())
	in.sink.OnTaskFinish(id, status, at)

	in.output = in.resolver.Freeze()
	in.sink.OnBuildOutputReady(in.output)
}

func (in *Ingestor) resetSession() {
	in.resolver = outputs.NewResolver()
	in.pipeline = diagnostics.NewPipeline(diagnostics.Options{
		Publisher:        in.sink,
		Sources:          in.sources,
		WorkspaceRoot:    in.workspace,
		ExecRoot:         in.execRoot,
		RequestedTargets: in.requested,
		Log:              in.log,
	})
}

func namedSet(p *bep.NamedSetOfFiles, execRoot string) outputs.NamedSet {
	set := outputs.NamedSet{Children: p.FileSets}
	for _, f := range p.Files {
		set.Files = append(set.Files, f.ResolveURI(execRoot))
	}
	return set
}

func outputGroups(groups []bep.OutputGroup, execRoot string) []outputs.OutputGroup {
	out := make([]outputs.OutputGroup, 0, len(groups))
	for _, g := range groups {
		og := outputs.OutputGroup{Name: g.Name, FileSets: g.FileSets}
		for _, f := range g.InlineFiles {
			og.InlineFiles = append(og.InlineFiles, f.ResolveURI(execRoot))
		}
		out = append(out, og)
	}
	return out
}
