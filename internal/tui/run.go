package tui

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork creates a bubbletea program, launches workFn in a goroutine,
// and blocks until the program exits. workFn receives a send callback bound
// to the program. The work's own error is returned in preference to the
// model's.
func RunWithWork(out io.Writer, model ProgressModel, workFn func(send func(tea.Msg)) error) error {
	p := tea.NewProgram(model, tea.WithOutput(out), tea.WithInput(nil))

	workErr := make(chan error, 1)
	go func() {
		// Let bubbletea start its event loop and render the initial frame.
		time.Sleep(50 * time.Millisecond)

		err := workFn(p.Send)
		workErr <- err
		if err != nil {
			p.Send(ErrorMsg{Err: err})
			return
		}
		p.Send(WorkDoneMsg{})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	select {
	case err := <-workErr:
		if err != nil {
			return err
		}
	default:
		// The user quit before the work finished.
	}
	if m, ok := finalModel.(ProgressModel); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}
