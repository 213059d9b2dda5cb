package tui

import (
	"fmt"
	"strings"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	tickInterval = 150 * time.Millisecond
	labelWidth   = 28
	detailWidth  = 48
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// tickMsg drives the spinner.
type tickMsg time.Time

// Stage is one row of the display.
type Stage struct {
	Key   string
	Label string
}

type stageRow struct {
	Stage
	status string
	detail string
}

// ProgressModel is a bubbletea model that lists the stages of an operation
// and draws one overall progress bar under them.
type ProgressModel struct {
	title    string
	rows     []stageRow
	rowIndex map[string]int
	active   int

	bar     bar.Model
	percent int

	done bool
	err  error
	tick int
}

// NewProgressModel creates a model with every stage pending.
func NewProgressModel(title string, stages []Stage) ProgressModel {
	m := ProgressModel{
		title:    title,
		rowIndex: make(map[string]int, len(stages)),
		active:   -1,
		bar:      bar.New(bar.WithDefaultGradient(), bar.WithWidth(labelWidth+detailWidth)),
	}
	for _, s := range stages {
		m.rowIndex[s.Key] = len(m.rows)
		m.rows = append(m.rows, stageRow{Stage: s, status: StatusPending})
	}
	return m
}

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init satisfies the tea.Model interface.
func (m ProgressModel) Init() tea.Cmd {
	return scheduleTick()
}

// Update satisfies the tea.Model interface.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

	case tea.WindowSizeMsg:
		if w := msg.Width - 8; w > 10 && w < labelWidth+detailWidth {
			m.bar.Width = w
		}
		return m, nil

	case StageMsg:
		m.enterStage(msg.Key)
		return m, nil

	case ProgressMsg:
		m.percent = msg.Percent
		if m.active >= 0 {
			m.rows[m.active].detail = msg.Status
		}
		return m, nil

	case WorkDoneMsg:
		m.finishActive(StatusDone)
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.finishActive(StatusFailed)
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// enterStage completes the active row and activates key. Keys without a
// row are ignored.
func (m *ProgressModel) enterStage(key string) {
	idx, ok := m.rowIndex[key]
	if !ok || idx == m.active {
		return
	}
	m.finishActive(StatusDone)
	for i := m.active + 1; i < idx; i++ {
		if m.rows[i].status == StatusPending {
			m.rows[i].status = StatusSkipped
		}
	}
	m.active = idx
	m.rows[idx].status = StatusActive
}

func (m *ProgressModel) finishActive(status string) {
	if m.active < 0 || m.rows[m.active].status != StatusActive {
		return
	}
	m.rows[m.active].status = status
}

// View satisfies the tea.Model interface.
func (m ProgressModel) View() string {
	var b strings.Builder
	if m.title != "" {
		b.WriteString(HeaderStyle.Render(m.title))
		b.WriteString("\n\n")
	}

	for _, row := range m.rows {
		icon := statusIcon(row.status)
		if row.status == StatusActive && !m.done {
			icon = spinnerFrames[m.tick%len(spinnerFrames)]
		}
		fmt.Fprintf(&b, "%s %s  %s\n",
			StatusStyle(row.status).Render(icon),
			pad(TruncateWithEllipsis(row.Label, labelWidth), labelWidth),
			StatusStyle(StatusPending).Render(TruncateWithEllipsis(row.detail, detailWidth)),
		)
	}

	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s %3d%%\n", m.bar.ViewAs(float64(m.percent)/100), m.percent)
	if m.done && m.err != nil {
		fmt.Fprintf(&b, "%s\n", StatusStyle(StatusFailed).Render("Error: "+m.err.Error()))
	}
	return b.String()
}

// Done returns whether the model has finished (work done or error).
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m ProgressModel) Err() error {
	return m.err
}

// Percent returns the last reported overall percent.
func (m ProgressModel) Percent() int {
	return m.percent
}

func statusIcon(status string) string {
	switch status {
	case StatusDone:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusSkipped:
		return "–"
	case StatusActive:
		return "›"
	}
	return "·"
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// TruncateWithEllipsis truncates a string and adds "..." if it exceeds max length.
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
