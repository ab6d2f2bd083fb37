package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-harness/report"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// console prints failed assertions as they are recorded.
type console struct {
	w  io.Writer
	mu sync.Mutex
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) Record(r report.Result) {
	if r.Passed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, renderResult(r))
}

// renderResult formats one result line with styles.
func renderResult(r report.Result) string {
	status, style := "PASS", passStyle
	if !r.Passed {
		status, style = "FAIL", failStyle
	}
	line := style.Render(status) + " " + r.Name
	if r.Source != "" {
		line += " " + sourceStyle.Render("["+r.Source+"]")
	}
	if r.Message != "" {
		line += ": " + r.Message
	}
	if r.Location != "" {
		line += " " + helpStyle.Render("("+r.Location+")")
	}
	return line
}
