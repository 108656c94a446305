package app

import (
	"time"

	"github.com/go-logr/logr"

	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/process"
)

// logSink is the default sink when no client is attached.
type logSink struct {
	log logr.Logger
}

func (s logSink) OnTaskStart(id ingest.TaskID, start time.Time) {
	s.log.Info("build started", "task", string(id), "time", start)
}

func (s logSink) OnTaskFinish(id ingest.TaskID, status process.Status, finish time.Time) {
	s.log.Info("build finished", "task", string(id), "status", status.String(), "time", finish)
}

func (s logSink) OnDiagnosticsPublish(target, fileURI string, diags []diagnostics.Diagnostic, reset bool) {
	s.log.V(1).Info("diagnostics", "target", target, "file", fileURI, "count", len(diags), "reset", reset)
	for _, d := range diags {
		s.log.Info(d.Message, "severity", d.Severity.String(), "file", fileURI, "line", d.Range.Start.Line)
	}
}

func (s logSink) OnBuildOutputReady(out *outputs.Output) {
	s.log.V(1).Info("build outputs ready", "targets", len(out.RootTargets()), "groups", out.OutputGroups())
}

func (s logSink) OnShowMessage(msg string) {
	s.log.Info(msg)
}
