package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
)

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// lineWriter forwards game output lines. While held, lines are buffered so
// they do not tear through the interactive display.
type lineWriter struct {
	mu   sync.Mutex
	w    io.Writer
	held bool
	buf  []string
}

func (l *lineWriter) hold() {
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
}

func (l *lineWriter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	for _, line := range l.buf {
		fmt.Fprintln(l.w, line)
	}
	l.buf = nil
}

func (l *lineWriter) WriteLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.buf = append(l.buf, line)
		return
	}
	fmt.Fprintln(l.w, line)
}

// gameExitError carries a non-zero game exit code out of Execute.
type gameExitError struct {
	code int
}

func (e *gameExitError) Error() string {
	return fmt.Sprintf("game exited with code %d", e.code)
}

func exitCode(err error) int {
	var exitErr *gameExitError
	if errors.As(err, &exitErr) && exitErr.code > 0 && exitErr.code < 256 {
		return exitErr.code
	}
	return 1
}
