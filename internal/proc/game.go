package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultSuppress lists substrings of game output lines that are hidden
// from the user-visible stream. They are still archived.
var DefaultSuppress = []string{
	"Failed to verify authentication",
	"Failed to fetch user properties",
	"Session ID is",
	"Couldn't connect to realms",
	"Realms:",
	"[OpenAL]",
}

// DefaultConnectingMarker is the output fragment printed when the client
// starts joining a server.
const DefaultConnectingMarker = "Connecting to"

// Stream identifies where a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Command describes the process to start.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Hooks receive game events. Every field is optional. Hooks run on the
// scanning goroutines and must not block for long.
type Hooks struct {
	OnLine       func(stream Stream, line string)
	OnConnecting func()
	OnExit       func(code int, err error)
}

// Options configures supervision.
type Options struct {
	// Archive receives every line, suppressed or not.
	Archive          io.Writer
	Suppress         []string
	ConnectingMarker string
	Hooks            Hooks
}

// GameProcess supervises one running game.
type GameProcess struct {
	cmd  *exec.Cmd
	opts Options

	archiveMu  sync.Mutex
	connecting sync.Once

	done     chan struct{}
	exitCode int
	exitErr  error
}

// Start spawns cmd and begins scanning its output.
func Start(cmd Command, opts Options) (*GameProcess, error) {
	if opts.Suppress == nil {
		opts.Suppress = DefaultSuppress
	}
	if opts.ConnectingMarker == "" {
		opts.ConnectingMarker = DefaultConnectingMarker
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	g := &GameProcess{cmd: c, opts: opts, done: make(chan struct{})}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go g.scan(&scanners, Stdout, stdout)
	go g.scan(&scanners, Stderr, stderr)

	go func() {
		scanners.Wait()
		err := c.Wait()
		code := 0
		if c.ProcessState != nil {
			code = c.ProcessState.ExitCode()
		}
		g.exitCode = code
		g.exitErr = err
		close(g.done)
		if g.opts.Hooks.OnExit != nil {
			g.opts.Hooks.OnExit(code, err)
		}
	}()
	return g, nil
}

func (g *GameProcess) scan(wg *sync.WaitGroup, stream Stream, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		g.handleLine(stream, scanner.Text())
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (g *GameProcess) handleLine(stream Stream, line string) {
	if g.opts.Archive != nil {
		g.archiveMu.Lock()
		fmt.Fprintf(g.opts.Archive, "%s [%s] %s\n", time.Now().Format("15:04:05.000"), stream, line)
		g.archiveMu.Unlock()
	}
	if strings.Contains(line, g.opts.ConnectingMarker) && g.opts.Hooks.OnConnecting != nil {
		g.connecting.Do(g.opts.Hooks.OnConnecting)
	}
	if Suppressed(line, g.opts.Suppress) {
		return
	}
	if g.opts.Hooks.OnLine != nil {
		g.opts.Hooks.OnLine(stream, line)
	}
}

// Suppressed reports whether line matches any entry of list.
func Suppressed(line string, list []string) bool {
	for _, s := range list {
		if s != "" && strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// PID returns the process id.
func (g *GameProcess) PID() int {
	return g.cmd.Process.Pid
}

// Done is closed once the process exited and its output was drained.
func (g *GameProcess) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until exit and returns the exit code and wait error.
func (g *GameProcess) Wait() (int, error) {
	<-g.done
	return g.exitCode, g.exitErr
}

// Running reports whether the process has not exited yet.
func (g *GameProcess) Running() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Kill terminates the process and any children it spawned. Killing an
// exited process is a no-op.
func (g *GameProcess) Kill(ctx context.Context) error {
	if !g.Running() {
		return nil
	}
	if err := killTree(ctx, int32(g.PID())); err != nil {
		// Fall back to the direct handle.
		if killErr := g.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return fmt.Errorf("kill game process: %w", errors.Join(err, killErr))
		}
	}
	return nil
}

func killTree(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	children, _ := p.ChildrenWithContext(ctx)
	for _, child := range children {
		_ = killTree(ctx, child.Pid)
	}
	return p.KillWithContext(ctx)
}
