// Package tui renders a live progress view for continuation runs. The
// model drives a progressive runner in RunSteps batches and, when the
// run finishes, leaves the branch plotted in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/avoura/bifurc/internal/cont"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Runner is the progressive surface the view drives. Both continuation
// runners and homotopy runs satisfy it.
type Runner interface {
	RunSteps(batch int) (cont.StepResult, error)
	Result() (*cont.Branch, error)
}

type stepMsg struct {
	res cont.StepResult
	err error
}

// Model is a bubbletea model that advances a runner batch by batch and
// shows its progress. After the program exits, Branch and Err hold the
// outcome.
type Model struct {
	name   string
	runner Runner
	batch  int

	res    cont.StepResult
	branch *cont.Branch
	err    error
	quit   bool

	width int
}

func NewModel(name string, r Runner, batch int) *Model {
	if batch <= 0 {
		batch = 10
	}
	return &Model{name: name, runner: r, batch: batch, width: 80}
}

// Branch is the computed branch, possibly partial after an error or an
// early quit. Nil if the first batch never completed.
func (m *Model) Branch() *cont.Branch { return m.branch }

// Err is the runner error that stopped the run, if any.
func (m *Model) Err() error { return m.err }

func (m *Model) step() tea.Cmd {
	return func() tea.Msg {
		res, err := m.runner.RunSteps(m.batch)
		return stepMsg{res: res, err: err}
	}
}

func (m *Model) finish() {
	if m.branch != nil {
		return
	}
	br, err := m.runner.Result()
	if err == nil {
		m.branch = br
	} else if m.err == nil {
		m.err = err
	}
}

func (m *Model) Init() tea.Cmd { return m.step() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "escape":
			// A batch is in flight until the run finishes; quit once
			// its stepMsg lands so Result never races RunSteps.
			m.quit = true
			if m.res.Done || m.err != nil {
				m.finish()
				return m, tea.Quit
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case stepMsg:
		m.res = msg.res
		if msg.err != nil {
			m.err = msg.err
			m.finish()
			return m, tea.Quit
		}
		if msg.res.Done || m.quit {
			m.finish()
			return m, tea.Quit
		}
		return m, m.step()
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder

	status := green.Render("● running")
	switch {
	case m.err != nil:
		status = red.Render("✗ " + m.err.Error())
	case m.quit:
		status = yellow.Render("○ stopped")
	case m.res.Done:
		status = green.Render("✓ done")
	}
	b.WriteString(fmt.Sprintf("\n   %s  %s\n\n", cyan.Render(m.name), status))

	total := m.res.TotalSteps
	if total <= 0 {
		total = 1
	}
	progress := float64(m.res.StepsTaken) / float64(total)
	if progress > 1 {
		progress = 1
	}
	barWidth := 36
	filled := int(progress * float64(barWidth))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s\n",
		bar, dim.Render(fmt.Sprintf("step %d/%d", m.res.StepsTaken, m.res.TotalSteps))))

	if m.branch != nil && len(m.branch.Points) > 1 {
		b.WriteString("\n" + m.plot() + "\n")
		b.WriteString(fmt.Sprintf("\n   %s %d   %s %d\n",
			dim.Render("points"), len(m.branch.Points),
			dim.Render("bifurcations"), len(m.branch.Bifurcations)))
		for _, bif := range m.branch.Bifurcations {
			if bif.PointIndex < 0 || bif.PointIndex >= len(m.branch.Points) {
				continue
			}
			pt := m.branch.Points[bif.PointIndex]
			b.WriteString(fmt.Sprintf("   %s %s %s\n",
				yellow.Render("◆"), white.Render(bif.KindName),
				dim.Render(fmt.Sprintf("at %s=%.6g", m.branch.Meta.Param, pt.ParamValue))))
		}
	}

	if m.branch == nil {
		b.WriteString("\n" + dim.Render("   q quit") + "\n")
	}
	return b.String()
}

// plot charts the first state coordinate against the point sequence.
func (m *Model) plot() string {
	series := make([]float64, 0, len(m.branch.Points))
	for _, pt := range m.branch.Points {
		if len(pt.State) == 0 {
			return ""
		}
		series = append(series, pt.State[0])
	}
	width := m.width - 16
	if width > 64 {
		width = 64
	}
	if width < 20 {
		width = 20
	}
	graph := asciigraph.Plot(series,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Offset(6))
	var b strings.Builder
	for _, line := range strings.Split(graph, "\n") {
		b.WriteString("   " + dim.Render(line) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Watch runs the progress view to completion and returns the finished
// branch. The run keeps its partial branch when quit early.
func Watch(name string, r Runner, batch int) (*cont.Branch, error) {
	m := NewModel(name, r, batch)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return nil, err
	}
	if m.Err() != nil {
		return m.Branch(), m.Err()
	}
	return m.Branch(), nil
}
