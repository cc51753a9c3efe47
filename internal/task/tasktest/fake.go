// Package tasktest provides a recording task.Runner for tests.
package tasktest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jbweber/boxforge/internal/task"
)

// Response is what the fake returns for one invocation.
type Response struct {
	// Output is returned by Capture and split into lines for RunStreaming.
	Output string
	// Err is returned by every method.
	Err error
}

// Runner records every command and answers with Respond.
type Runner struct {
	mu sync.Mutex

	// Calls holds every command in invocation order.
	Calls []task.Cmd
	// Inputs holds what RunWithInput callers wrote, keyed by call index.
	Inputs map[int]string
	// Respond decides the outcome of a call. nil means success with no output.
	Respond func(c task.Cmd) Response
}

// New returns a Runner that succeeds for everything.
func New() *Runner {
	return &Runner{Inputs: map[int]string{}}
}

func (r *Runner) record(c task.Cmd) (int, Response) {
	r.mu.Lock()
	r.Calls = append(r.Calls, c)
	idx := len(r.Calls) - 1
	respond := r.Respond
	r.mu.Unlock()
	if respond == nil {
		return idx, Response{}
	}
	return idx, respond(c)
}

// Run implements task.Runner.
func (r *Runner) Run(_ context.Context, c task.Cmd) error {
	_, resp := r.record(c)
	return resp.Err
}

// Capture implements task.Runner.
func (r *Runner) Capture(_ context.Context, c task.Cmd) (string, error) {
	_, resp := r.record(c)
	return strings.TrimSpace(resp.Output), resp.Err
}

// RunStreaming implements task.Runner.
func (r *Runner) RunStreaming(_ context.Context, c task.Cmd, onLine func(string)) error {
	_, resp := r.record(c)
	scanner := bufio.NewScanner(strings.NewReader(resp.Output))
	scanner.Split(task.ScanLinesOrReturns)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	return resp.Err
}

// RunWithInput implements task.Runner.
func (r *Runner) RunWithInput(_ context.Context, c task.Cmd, write func(io.Writer) error) error {
	idx, resp := r.record(c)
	var buf bytes.Buffer
	werr := write(&buf)
	r.mu.Lock()
	r.Inputs[idx] = buf.String()
	r.mu.Unlock()
	if resp.Err != nil {
		return resp.Err
	}
	return werr
}

// Lines returns every recorded command rendered as a shell line.
func (r *Runner) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many recorded commands start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// Index returns the position of the first command starting with prefix, or -1.
func (r *Runner) Index(prefix string) int {
	for i, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

// Fail returns the exit error a real runner would produce for c.
func Fail(c task.Cmd, status int) error {
	return &task.ExitError{Command: c.Name(), Status: status}
}
