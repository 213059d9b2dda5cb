package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"blocklaunch/internal/progress"
	"blocklaunch/internal/tui"
)

// plainProgress prints a line whenever the status changes or the percent
// crosses another tenth.
type plainProgress struct {
	w      io.Writer
	mu     sync.Mutex
	status string
	step   int
}

func (p *plainProgress) Report(status string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := progress.Clamp(percent) / 10
	if status == p.status && step == p.step {
		return
	}
	p.status = status
	p.step = step
	fmt.Fprintf(p.w, "[%3d%%] %s\n", progress.Clamp(percent), status)
}

// progressSink picks the reporter for commands without stages. The returned
// stop function clears any interactive line.
func progressSink(cmd *cobra.Command) (progress.Func, func()) {
	out := cmd.ErrOrStderr()
	switch tui.DetectMode(out, noProgress, outputJSON) {
	case tui.ModeTUI:
		sw := tui.NewStatusWriter(out)
		return sw.Report, sw.Stop
	case tui.ModeJSON:
		return progress.Nop, func() {}
	default:
		p := &plainProgress{w: out, step: -1}
		return p.Report, func() {}
	}
}
