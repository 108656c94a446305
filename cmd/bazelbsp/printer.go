package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/process"
)

var (
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	messageStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// printer renders build notifications for a terminal.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	starts map[ingest.TaskID]time.Time
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, starts: make(map[ingest.TaskID]time.Time)}
}

func (p *printer) OnTaskStart(id ingest.TaskID, start time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts[id] = start
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("build %s started", id)))
}

func (p *printer) OnTaskFinish(id ingest.TaskID, status process.Status, finish time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("build %s", statusText(status))
	if start, ok := p.starts[id]; ok && !finish.IsZero() {
		line += dimStyle.Render(fmt.Sprintf(" in %s", finish.Sub(start).Round(time.Millisecond)))
		delete(p.starts, id)
	}
	fmt.Fprintln(p.out, line)
}

func (p *printer) OnDiagnosticsPublish(target, fileURI string, diags []diagnostics.Diagnostic, reset bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := strings.TrimPrefix(fileURI, "file://")
	for _, d := range diags {
		sev := d.Severity.String()
		switch d.Severity {
		case diagnostics.SeverityError:
			sev = errStyle.Render(sev)
		case diagnostics.SeverityWarning:
			sev = warnStyle.Render(sev)
		}
		fmt.Fprintf(p.out, "%s:%d:%d: %s: %s %s\n", path, d.Range.Start.Line, d.Range.Start.Character,
			sev, d.Message, dimStyle.Render("["+target+"]"))
	}
}

func (p *printer) OnBuildOutputReady(out *outputs.Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("%d targets, output groups: %s",
		len(out.RootTargets()), strings.Join(out.OutputGroups(), ", "))))
}

func (p *printer) OnShowMessage(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, messageStyle.Render(msg))
}

func statusText(s process.Status) string {
	switch s {
	case process.StatusOK:
		return okStyle.Render("succeeded")
	case process.StatusCancelled:
		return warnStyle.Render("cancelled")
	default:
		return errStyle.Render("failed")
	}
}
