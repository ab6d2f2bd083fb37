package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/wasm-harness/harness"
	"github.com/wippyai/wasm-harness/report"
)

type interactiveModel struct {
	err      error
	cancel   context.CancelFunc
	results  []report.Result
	files    []string
	viewport viewport.Model
	spinner  spinner.Model
	summary  report.Summary
	failOnly bool
	done     bool
	ready    bool
}

type resultMsg report.Result

type doneMsg struct {
	err error
}

func newInteractiveModel(files []string, cancel context.CancelFunc) *interactiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sourceStyle
	return &interactiveModel{
		files:   files,
		cancel:  cancel,
		spinner: sp,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "f":
			m.failOnly = !m.failOnly
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()

	case resultMsg:
		r := report.Result(msg)
		m.results = append(m.results, r)
		m.summary.Total++
		if r.Passed {
			m.summary.Passed++
		} else {
			m.summary.Failed++
		}
		m.refresh()
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// refresh re-renders the result list and follows the tail while the run is
// in progress.
func (m *interactiveModel) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, r := range m.results {
		if m.failOnly && r.Passed {
			continue
		}
		b.WriteString(renderResult(r))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	if !m.done {
		m.viewport.GotoBottom()
	}
}

func (m *interactiveModel) View() string {
	if !m.ready {
		return "Starting..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("WASM Harness"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%d file(s)", len(m.files)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	status := fmt.Sprintf("%d passed, %d failed", m.summary.Passed, m.summary.Failed)
	switch {
	case m.err != nil:
		b.WriteString(failStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.done && m.summary.Failed > 0:
		b.WriteString(failStyle.Render("done: " + status))
	case m.done:
		b.WriteString(passStyle.Render("done: " + status))
	default:
		b.WriteString(m.spinner.View() + " " + status)
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ scroll • f failures only • q quit"))
	return b.String()
}

// runInteractive runs the suite while a terminal UI shows results as they
// are recorded. Results still reach rec.
func runInteractive(ctx context.Context, suite *harness.Suite, rec *report.Recorder, files []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newInteractiveModel(files, cancel), tea.WithAltScreen())
	suite.Reporter = report.Multi(rec, report.Func(func(r report.Result) {
		p.Send(resultMsg(r))
	}))

	runErr := make(chan error, 1)
	go func() {
		err := suite.Run(ctx, files...)
		runErr <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	cancel()
	return <-runErr
}
