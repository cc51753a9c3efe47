package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Logger receives a diagnostic line for every command.
type Logger interface {
	Debug(msg string, keyvals ...any)
}

// Exec runs commands as child processes.
type Exec struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Verbose bool
	Log     Logger

	// WaitDelay bounds how long a cancelled child may take to exit after it
	// was interrupted before it is killed.
	WaitDelay time.Duration
}

// NewExec returns an Exec attached to the process stdout/stderr.
func NewExec(log Logger, verbose bool) *Exec {
	return &Exec{
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Verbose:   verbose,
		Log:       log,
		WaitDelay: 30 * time.Second,
	}
}

func (e *Exec) command(ctx context.Context, c Cmd) *exec.Cmd {
	if e.Log != nil {
		e.Log.Debug("exec", "cmd", c.String(), "dir", c.Dir)
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// The child got the same terminal signal; give it a chance to finish
	// tearing down before it is killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.WaitDelay

	cmd.Stdout = e.Stdout
	if c.Quiet && !e.Verbose {
		cmd.Stdout = io.Discard
	}
	cmd.Stderr = e.Stderr
	if c.QuietStderr && !e.Verbose {
		cmd.Stderr = io.Discard
	}
	return cmd
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, c Cmd) error {
	return e.wait(ctx, c, e.command(ctx, c).Run())
}

// Capture implements Runner.
func (e *Exec) Capture(ctx context.Context, c Cmd) (string, error) {
	cmd := e.command(ctx, c)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := e.wait(ctx, c, cmd.Run())
	return strings.TrimSpace(out.String()), err
}

// RunStreaming implements Runner.
func (e *Exec) RunStreaming(ctx context.Context, c Cmd, onLine func(line string)) error {
	cmd := e.command(ctx, c)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if c.MergeStderr {
		cmd.Stderr = pw
	}

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("failed to start %s: %w", c.Name(), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(ScanLinesOrReturns)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		// drain so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, pr)
	}()

	werr := cmd.Wait()
	_ = pw.Close()
	<-done
	return e.wait(ctx, c, werr)
}

// RunWithInput implements Runner.
func (e *Exec) RunWithInput(ctx context.Context, c Cmd, write func(w io.Writer) error) error {
	cmd := e.command(ctx, c)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin of %s: %w", c.Name(), err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Name(), err)
	}

	werr := write(stdin)
	if cerr := stdin.Close(); werr == nil && !errors.Is(cerr, os.ErrClosed) {
		werr = cerr
	}
	if err := e.wait(ctx, c, cmd.Wait()); err != nil {
		return err
	}
	if werr != nil {
		return fmt.Errorf("failed to write input to %s: %w", c.Name(), werr)
	}
	return nil
}

// wait maps the result of a finished command to the package error types.
func (e *Exec) wait(ctx context.Context, c Cmd, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure := &ExitError{Command: c.Name(), Status: exitStatus(exitErr)}
		if ctx.Err() != nil {
			return fmt.Errorf("%w (%w)", failure, ctx.Err())
		}
		return failure
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", c.Name(), ctx.Err())
	}
	return fmt.Errorf("failed to run %s: %w", c.Name(), err)
}

func exitStatus(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return err.ExitCode()
}

// ScanLinesOrReturns is a bufio.SplitFunc that ends a token at "\n", "\r"
// or "\r\n". Empty tokens are skipped.
func ScanLinesOrReturns(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	if atEOF && start == len(data) {
		return start, nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	// request more data, keeping leading separators consumed
	return start, nil, nil
}
