package tui

// StageMsg moves the display to the stage with Key.
type StageMsg struct {
	Key string
}

// ProgressMsg carries one progress report.
type ProgressMsg struct {
	Status  string
	Percent int
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}
