package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"bazelbsp/internal/app"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/process"
)

type stubController struct {
	mu     sync.Mutex
	builds int
	result *app.BuildResult
	err    error
}

func (s *stubController) Build(ctx context.Context, params app.BuildParams) (*app.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds++
	return s.result, s.err
}

func (s *stubController) Close() error { return nil }

func diag(line int, msg string) diagnostics.Diagnostic {
	return diagnostics.Diagnostic{
		Severity: diagnostics.SeverityError,
		Range:    diagnostics.Range{Start: diagnostics.Position{Line: line}},
		Message:  msg,
	}
}

func TestDiagnosticsResetReplacesFileEntries(t *testing.T) {
	m := New(&stubController{}, app.BuildParams{Targets: []string{"//a:a"}})

	m.Update(diagnosticsMsg{target: "//a:a", file: "file:///ws/A.java", diags: []diagnostics.Diagnostic{diag(1, "one")}, reset: true})
	m.Update(diagnosticsMsg{target: "//a:a", file: "file:///ws/A.java", diags: []diagnostics.Diagnostic{diag(2, "two")}})
	m.Update(diagnosticsMsg{target: "//a:a", file: "file:///ws/B.java", diags: []diagnostics.Diagnostic{diag(3, "three")}, reset: true})
	if got := len(m.list.Items()); got != 3 {
		t.Fatalf("expected 3 items, got %d", got)
	}

	m.Update(diagnosticsMsg{target: "//a:a", file: "file:///ws/A.java", reset: true})
	items := m.list.Items()
	if len(items) != 1 {
		t.Fatalf("expected cleared file to drop its items, got %d", len(items))
	}
	if item := items[0].(diagnosticItem); item.file != "file:///ws/B.java" {
		t.Fatalf("unexpected remaining item %+v", item)
	}
}

func TestBuildCompletionAndRebuild(t *testing.T) {
	ctrl := &stubController{result: &app.BuildResult{Status: process.StatusError, ExitCode: 1}}
	m := New(ctrl, app.BuildParams{Targets: []string{"//a:a"}})

	msg := m.Init()()
	m.Update(msg)
	if m.building {
		t.Fatalf("expected build to be done")
	}
	if !strings.Contains(m.View(), "Build failed (exit code 1)") {
		t.Fatalf("unexpected view:\n%s", m.View())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil || !m.building {
		t.Fatalf("expected rebuild to start")
	}
	m.Update(cmd())
	if ctrl.builds != 2 {
		t.Fatalf("expected two builds, got %d", ctrl.builds)
	}

	// A running build ignores further rebuild requests.
	m.building = true
	m.statusMsg = "busy"
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if m.statusMsg != "busy" {
		t.Fatalf("expected no rebuild while building, status %q", m.statusMsg)
	}
}

func TestBuildErrorIsShown(t *testing.T) {
	m := New(&stubController{err: errors.New("no bazel")}, app.BuildParams{Targets: []string{"//a:a"}})
	m.Update(m.Init()())
	if m.err == nil || !strings.Contains(m.View(), "Error: no bazel") {
		t.Fatalf("expected error in view:\n%s", m.View())
	}
}

func TestProgramSinkForwardsNotifications(t *testing.T) {
	var got []tea.Msg
	sink := programSink{send: func(msg tea.Msg) { got = append(got, msg) }}

	sink.OnShowMessage("aborted")
	sink.OnTaskFinish("t1", process.StatusCancelled, time.Time{})
	sink.OnDiagnosticsPublish("//a:a", "file:///ws/A.java", nil, true)

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if msg, ok := got[0].(showMessageMsg); !ok || msg.text != "aborted" {
		t.Fatalf("unexpected message %#v", got[0])
	}
	if msg, ok := got[1].(taskFinishMsg); !ok || msg.status != process.StatusCancelled {
		t.Fatalf("unexpected finish %#v", got[1])
	}
	if msg, ok := got[2].(diagnosticsMsg); !ok || !msg.reset {
		t.Fatalf("unexpected diagnostics %#v", got[2])
	}
}
