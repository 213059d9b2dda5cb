// Package proc runs short probe commands and supervises the game process.
package proc

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"
)

// RunOptions adjusts a single command invocation.
type RunOptions struct {
	Dir     string
	Env     []string
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// RunResult holds captured output.
type RunResult struct {
	Stdout []byte
	Stderr []byte
}

// Combined returns stdout followed by stderr. Java prints its version banner
// on stderr, so probes read both.
func (r RunResult) Combined() []byte {
	out := make([]byte, 0, len(r.Stdout)+len(r.Stderr))
	out = append(out, r.Stdout...)
	return append(out, r.Stderr...)
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error)
}

// CmdRunner runs real processes.
type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.Writer(&stdoutBuf)
	if opts.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, opts.Stdout)
	}
	cmd.Stderr = io.Writer(&stderrBuf)
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, opts.Stderr)
	}

	err := cmd.Run()
	return RunResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}, err
}

var _ Runner = CmdRunner{}
