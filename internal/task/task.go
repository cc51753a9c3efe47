// Package task runs external commands on behalf of the build stages.
//
// Every stage talks to disk utilities, installers and VM product CLIs
// through the Runner interface, so the stages can be tested against a fake
// that records invocations.
package task

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Cmd describes one external command invocation.
type Cmd struct {
	// Path is the executable, usually an absolute path.
	Path string
	// Args are passed after Path.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// Quiet discards standard output unless the runner is verbose.
	Quiet bool
	// QuietStderr discards standard error unless the runner is verbose.
	QuietStderr bool
	// MergeStderr sends standard error to the streamed output.
	MergeStderr bool
}

// Command returns a Cmd for path and args.
func Command(path string, args ...string) Cmd {
	return Cmd{Path: path, Args: args}
}

// In returns a copy of c running in dir.
func (c Cmd) In(dir string) Cmd {
	c.Dir = dir
	return c
}

// Silenced returns a copy of c whose stdout is discarded unless verbose.
func (c Cmd) Silenced() Cmd {
	c.Quiet = true
	return c
}

// Name returns the executable as reported in failures.
func (c Cmd) Name() string { return c.Path }

// String renders c as a shell command line.
func (c Cmd) String() string {
	words := make([]string, 0, len(c.Args)+1)
	for _, w := range append([]string{c.Path}, c.Args...) {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			q = fmt.Sprintf("%q", w)
		}
		words = append(words, q)
	}
	return strings.Join(words, " ")
}

// AsUser wraps c so it runs as user through sudo.
func AsUser(user string, c Cmd) Cmd {
	wrapped := c
	wrapped.Path = "/usr/bin/sudo"
	wrapped.Args = append([]string{"-u", user, c.Path}, c.Args...)
	return wrapped
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command string
	Status  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with non-zero exit code: %d", e.Command, e.Status)
}

// Runner executes commands.
type Runner interface {
	// Run executes c and waits for it.
	Run(ctx context.Context, c Cmd) error
	// Capture executes c and returns its trimmed standard output.
	Capture(ctx context.Context, c Cmd) (string, error)
	// RunStreaming executes c and hands every output line to onLine. Lines
	// are split on either "\n" or "\r" so tools that redraw their own
	// progress are seen update by update.
	RunStreaming(ctx context.Context, c Cmd, onLine func(line string)) error
	// RunWithInput executes c and lets write feed its standard input. The
	// input is closed when write returns.
	RunWithInput(ctx context.Context, c Cmd, write func(w io.Writer) error) error
}
