package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
)

const statusBarWidth = 24

// StatusWriter redraws a single status line for commands that have no
// stages, such as update and runtime. Report satisfies progress.Func.
type StatusWriter struct {
	w     io.Writer
	bar   bar.Model
	mu    sync.Mutex
	line  statusLine
	done  chan struct{}
	ended bool
}

type statusLine struct {
	status  string
	percent int
	since   time.Time
}

// NewStatusWriter starts redrawing to w every 100ms until Stop.
func NewStatusWriter(w io.Writer) *StatusWriter {
	sw := &StatusWriter{
		w:    w,
		bar:  bar.New(bar.WithSolidFill("6"), bar.WithWidth(statusBarWidth), bar.WithoutPercentage()),
		line: statusLine{percent: -1, since: time.Now()},
		done: make(chan struct{}),
	}
	go sw.loop()
	return sw
}

// Report records the latest status. The elapsed timer restarts only when
// the status text changes.
func (sw *StatusWriter) Report(status string, percent int) {
	sw.mu.Lock()
	if status != sw.line.status {
		sw.line.status = status
		sw.line.since = time.Now()
	}
	sw.line.percent = percent
	sw.mu.Unlock()
}

// Stop clears the status line. It is safe to call more than once.
func (sw *StatusWriter) Stop() {
	sw.mu.Lock()
	if sw.ended {
		sw.mu.Unlock()
		return
	}
	sw.ended = true
	sw.mu.Unlock()
	close(sw.done)
	fmt.Fprint(sw.w, "\r\033[K")
}

func (sw *StatusWriter) loop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.mu.Lock()
			line := sw.line
			sw.mu.Unlock()
			fmt.Fprint(sw.w, "\r\033[K"+sw.render(line, frame))
		}
	}
}

func (sw *StatusWriter) render(line statusLine, frame int) string {
	spinner := spinnerFrames[frame%len(spinnerFrames)]
	elapsed := formatElapsed(time.Since(line.since))
	if line.percent < 0 {
		return fmt.Sprintf("%s %s (%s)", spinner, line.status, elapsed)
	}
	return fmt.Sprintf("%s %s %s %3d%% (%s)", spinner, sw.bar.ViewAs(float64(line.percent)/100), TruncateWithEllipsis(line.status, detailWidth), line.percent, elapsed)
}

// formatElapsed formats a duration for display in the status line.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
