package tui

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
)

// OutputMode describes how launcher progress is rendered.
type OutputMode int

const (
	// ModeTUI redraws stage rows and a progress bar in place.
	ModeTUI OutputMode = iota
	// ModePlain prints one line per status change.
	ModePlain
	// ModeJSON prints nothing until the final JSON document.
	ModeJSON
)

// DetectMode picks ModeTUI only for an interactive terminal outside CI.
func DetectMode(out io.Writer, noProgress, jsonOutput bool) OutputMode {
	if jsonOutput {
		return ModeJSON
	}
	if noProgress || os.Getenv("CI") != "" {
		return ModePlain
	}
	file, ok := out.(*os.File)
	if !ok {
		return ModePlain
	}
	fd := file.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return ModePlain
	}
	if runtime.GOOS != "windows" {
		term := os.Getenv("TERM")
		if term == "" || strings.EqualFold(term, "dumb") {
			return ModePlain
		}
	}
	return ModeTUI
}
