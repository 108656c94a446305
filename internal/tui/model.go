package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bazelbsp/internal/app"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/process"
)

// Controller defines the subset of app.App behaviour the TUI needs.
type Controller interface {
	Build(context.Context, app.BuildParams) (*app.BuildResult, error)
	Close() error
}

// ControllerFactory builds a controller whose notifications go to sink.
type ControllerFactory func(sink ingest.Sink) (Controller, error)

// Model represents the Bubble Tea state.
type Model struct {
	controller Controller
	params     app.BuildParams

	list  list.Model
	files []fileKey
	diags map[fileKey][]diagnostics.Diagnostic

	statusMsg string
	status    process.Status
	building  bool
	finished  bool
	notice    string
	output    *outputs.Output

	err error

	width  int
	height int

	started     time.Time
	lastUpdated time.Time
}

type fileKey struct {
	target string
	file   string
}

// New constructs a TUI model with default styles.
func New(ctrl Controller, params app.BuildParams) *Model {
	delegate := list.NewDefaultDelegate()
	lst := list.New([]list.Item{}, delegate, 0, 0)
	lst.Title = "Diagnostics"
	lst.SetShowHelp(false)
	lst.SetFilteringEnabled(false)
	lst.DisableQuitKeybindings()

	return &Model{
		controller: ctrl,
		params:     params,
		list:       lst,
		diags:      make(map[fileKey][]diagnostics.Diagnostic),
		statusMsg:  "Starting build…",
		building:   true,
	}
}

// Run spins up the Bubble Tea program and builds params once it is up.
func Run(factory ControllerFactory, params app.BuildParams) error {
	m := New(nil, params)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	ctrl, err := factory(programSink{send: prog.Send})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	m.controller = ctrl

	_, err = prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return buildCmd(m.controller, m.params)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.height > 6 {
			m.list.SetSize(msg.Width, msg.Height-6)
		}

	case taskStartMsg:
		m.started = msg.start
		m.statusMsg = fmt.Sprintf("Building %s…", strings.Join(m.params.Targets, " "))

	case taskFinishMsg:
		m.finished = true
		m.status = msg.status

	case diagnosticsMsg:
		m.storeDiagnostics(msg)

	case outputReadyMsg:
		m.output = msg.output

	case showMessageMsg:
		m.notice = msg.text

	case buildDoneMsg:
		m.building = false
		m.err = nil
		m.status = msg.result.Status
		m.finished = true
		m.statusMsg = fmt.Sprintf("Build %s (exit code %d). Press r to rebuild, q to quit.",
			statusWord(msg.result.Status), msg.result.ExitCode)
		m.lastUpdated = time.Now()

	case errMsg:
		m.building = false
		m.err = msg.err
		m.statusMsg = "Build could not run. Press r to retry, q to quit."

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			if !m.building {
				m.building = true
				m.finished = false
				m.notice = ""
				m.statusMsg = "Starting build…"
				return m, buildCmd(m.controller, m.params)
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	statusStyle := lipgloss.NewStyle().Bold(true)
	switch {
	case m.err != nil || (m.finished && m.status != process.StatusOK):
		statusStyle = statusStyle.Foreground(lipgloss.Color("203"))
	case m.finished:
		statusStyle = statusStyle.Foreground(lipgloss.Color("42"))
	}
	b.WriteString(statusStyle.Render(m.statusMsg))
	b.WriteByte('\n')

	if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}
	if m.notice != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render(m.notice))
		b.WriteByte('\n')
	}

	if len(m.list.Items()) == 0 {
		if !m.building {
			b.WriteString("No diagnostics.\n")
		}
	} else {
		b.WriteString(m.list.View())
		b.WriteByte('\n')
	}

	if current, ok := m.list.SelectedItem().(diagnosticItem); ok {
		detail := fmt.Sprintf("target=%s\nfile=%s\n\n%s",
			current.target, current.file, current.diag.Message)
		detailStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginBottom(1)
		b.WriteString(detailStyle.Render(detail))
		b.WriteByte('\n')
	}

	help := "Commands: q quit • r rebuild"
	if m.output != nil {
		help += fmt.Sprintf(" • outputs=%d", len(m.output.FilesByOutputGroup("default")))
	}
	if !m.lastUpdated.IsZero() {
		help += fmt.Sprintf(" • last build %s", m.lastUpdated.Format(time.Kitchen))
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// storeDiagnostics applies one publish: reset replaces what the file had for
// the target, otherwise the diagnostics are added.
func (m *Model) storeDiagnostics(msg diagnosticsMsg) {
	key := fileKey{target: msg.target, file: msg.file}
	if _, ok := m.diags[key]; !ok {
		m.files = append(m.files, key)
	}
	if msg.reset {
		m.diags[key] = append([]diagnostics.Diagnostic(nil), msg.diags...)
	} else {
		m.diags[key] = append(m.diags[key], msg.diags...)
	}

	items := make([]list.Item, 0, len(m.list.Items()))
	for _, k := range m.files {
		for _, d := range m.diags[k] {
			items = append(items, diagnosticItem{target: k.target, file: k.file, diag: d})
		}
	}
	m.list.SetItems(items)
}

// diagnosticItem adapts a diagnostic to the bubbles list item interface.
type diagnosticItem struct {
	target string
	file   string
	diag   diagnostics.Diagnostic
}

func (d diagnosticItem) Title() string {
	return fmt.Sprintf("[%s] %s:%d:%d", d.diag.Severity, strings.TrimPrefix(d.file, "file://"),
		d.diag.Range.Start.Line, d.diag.Range.Start.Character)
}

func (d diagnosticItem) Description() string {
	msg, _, _ := strings.Cut(d.diag.Message, "\n")
	return fmt.Sprintf("%s | %s", msg, d.target)
}

func (d diagnosticItem) FilterValue() string {
	return d.file + " " + d.diag.Message
}

func statusWord(s process.Status) string {
	switch s {
	case process.StatusOK:
		return "succeeded"
	case process.StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

type taskStartMsg struct{ start time.Time }

type taskFinishMsg struct{ status process.Status }

type diagnosticsMsg struct {
	target string
	file   string
	diags  []diagnostics.Diagnostic
	reset  bool
}

type outputReadyMsg struct{ output *outputs.Output }

type showMessageMsg struct{ text string }

type buildDoneMsg struct{ result *app.BuildResult }

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func buildCmd(ctrl Controller, params app.BuildParams) tea.Cmd {
	return func() tea.Msg {
		res, err := ctrl.Build(context.Background(), params)
		if err != nil {
			return errMsg{err}
		}
		return buildDoneMsg{result: res}
	}
}

// programSink forwards build notifications into the Bubble Tea event loop.
type programSink struct {
	send func(tea.Msg)
}

func (s programSink) OnTaskStart(_ ingest.TaskID, start time.Time) {
	s.send(taskStartMsg{start: start})
}

func (s programSink) OnTaskFinish(_ ingest.TaskID, status process.Status, _ time.Time) {
	s.send(taskFinishMsg{status: status})
}

func (s programSink) OnDiagnosticsPublish(target, fileURI string, diags []diagnostics.Diagnostic, reset bool) {
	s.send(diagnosticsMsg{target: target, file: fileURI, diags: diags, reset: reset})
}

func (s programSink) OnBuildOutputReady(out *outputs.Output) {
	s.send(outputReadyMsg{output: out})
}

func (s programSink) OnShowMessage(msg string) {
	s.send(showMessageMsg{text: msg})
}
