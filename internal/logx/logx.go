package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Logger is the narrow logging surface the synchronization packages accept.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type discard struct{}

func (discard) Printf(string, ...any) {}

// Discard drops every message.
var Discard Logger = discard{}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}

// New creates a logger that writes to a timestamped file inside logsDir. The
// returned closer should be closed when logging is no longer needed.
func New(logsDir, prefix string) (*log.Logger, io.Closer, error) {
	file, err := openTimestamped(logsDir, prefix)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return logger, file, nil
}

// NewArchive opens a raw timestamped file used to keep every line the game
// process prints, including lines hidden from the user.
func NewArchive(logsDir, prefix string) (*os.File, error) {
	return openTimestamped(logsDir, prefix)
}

// Tagged prefixes every message with tag, e.g. a launch attempt id.
func Tagged(l Logger, tag string) Logger {
	return tagged{inner: OrDiscard(l), tag: tag}
}

type tagged struct {
	inner Logger
	tag   string
}

func (t tagged) Printf(format string, v ...any) {
	t.inner.Printf("[%s] %s", t.tag, fmt.Sprintf(format, v...))
}

func openTimestamped(logsDir, prefix string) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := time.Now().Format("20060102-150405") + ".log"
	if prefix != "" {
		filename = prefix + "-" + filename
	}
	filePath := filepath.Join(logsDir, filename)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
