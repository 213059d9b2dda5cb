// Package lockfile serializes installs across launcher processes with an
// exclusive lock file.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// StaleAfter is how long a lock may go without a heartbeat before it is
// assumed to belong to a crashed process. A lock whose recorded process is
// still alive is never taken over.
var StaleAfter = 10 * time.Minute

const pollInterval = 100 * time.Millisecond

// Acquire blocks until path can be created exclusively or ctx is done. While
// held, the lock's mtime is refreshed so long installs never look stale. The
// returned func removes the lock.
func Acquire(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare lock dir: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return heartbeat(path), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if stale(ctx, path) {
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func heartbeat(path string) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(max(StaleAfter/3, pollInterval))
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				_ = os.Chtimes(path, now, now)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = os.Remove(path)
		})
	}
}

func stale(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= StaleAfter {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		return true
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	return err != nil || !alive
}
