package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"blocklaunch/internal/progress"
)

// Reporter adapts progress callbacks to bubbletea messages so the work
// code never sees the program.
type Reporter struct {
	send func(tea.Msg)
}

// NewReporter wraps send, usually tea.Program.Send.
func NewReporter(send func(tea.Msg)) *Reporter {
	return &Reporter{send: send}
}

// Progress implements progress.Func.
func (r *Reporter) Progress(status string, percent int) {
	r.send(ProgressMsg{Status: status, Percent: progress.Clamp(percent)})
}

// Func returns Progress as a progress.Func.
func (r *Reporter) Func() progress.Func {
	return r.Progress
}

// Stage moves the display to key.
func (r *Reporter) Stage(key string) {
	r.send(StageMsg{Key: key})
}

// Fail ends the display with err.
func (r *Reporter) Fail(err error) {
	r.send(ErrorMsg{Err: err})
}
