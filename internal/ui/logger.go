// Package ui renders build status for the operator.
//
// A Logger carries its own indentation depth and color capability; there is
// no process-wide logging state. Status lines ("• Creating image...") are
// written with Info/Error and nested with Step. Diagnostic output (commands,
// retries, swallowed cleanup failures) goes through Debug/Warn and is only
// shown in verbose mode.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// prefixes indexed by depth; deeper steps reuse the last entry.
var prefixes = []string{"• ", "  + ", "    - "}

// Options configures a Logger.
type Options struct {
	// Color enables green/red status lines.
	Color bool
	// Verbose shows diagnostic messages and command output.
	Verbose bool
	// Debug implies Verbose and adds timestamps to diagnostic messages.
	Debug bool
}

// Logger writes indented status lines and diagnostic messages.
type Logger struct {
	out     io.Writer
	depth   int
	color   bool
	verbose bool
	debug   bool

	infoStyle  lipgloss.Style
	errorStyle lipgloss.Style
	diag       *log.Logger
}

// New returns a Logger writing to out.
func New(out io.Writer, opts Options) *Logger {
	r := lipgloss.NewRenderer(out)

	level := log.WarnLevel
	if opts.Verbose || opts.Debug {
		level = log.DebugLevel
	}
	diag := log.NewWithOptions(out, log.Options{
		Prefix:          "boxforge",
		Level:           level,
		ReportTimestamp: opts.Debug,
	})

	return &Logger{
		out:        out,
		color:      opts.Color,
		verbose:    opts.Verbose || opts.Debug,
		debug:      opts.Debug,
		infoStyle:  r.NewStyle().Foreground(lipgloss.Color("2")),
		errorStyle: r.NewStyle().Foreground(lipgloss.Color("1")),
		diag:       diag,
	}
}

// NewStderr returns a Logger on os.Stderr with color enabled when stderr is a
// terminal.
func NewStderr(verbose, debug bool) *Logger {
	return New(os.Stderr, Options{
		Color:   IsTerminal(os.Stderr),
		Verbose: verbose,
		Debug:   debug,
	})
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Prefix returns the status prefix for the current depth.
func (l *Logger) Prefix() string {
	if l.depth >= len(prefixes) {
		return prefixes[len(prefixes)-1]
	}
	return prefixes[l.depth]
}

// Depth returns the current nesting depth.
func (l *Logger) Depth() int { return l.depth }

// Reset returns to the top level.
func (l *Logger) Reset() { l.depth = 0 }

// Info writes a status line.
func (l *Logger) Info(msg string) {
	_, _ = fmt.Fprintln(l.out, l.Green(l.Prefix()+msg))
}

// Infof writes a formatted status line.
func (l *Logger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

// Error writes a status line highlighted as a failure.
func (l *Logger) Error(msg string) {
	_, _ = fmt.Fprintln(l.out, l.Red(l.Prefix()+msg))
}

// Errorf writes a formatted failure line.
func (l *Logger) Errorf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
}

// Step writes msg and runs fn one level deeper. The depth is restored
// whether or not fn fails.
func (l *Logger) Step(msg string, fn func() error) error {
	l.Info(msg)
	l.depth++
	defer func() { l.depth-- }()
	return fn()
}

// Debug writes a diagnostic message when verbose output is enabled.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.diag.Debug(msg, keyvals...)
}

// Warn writes a diagnostic warning.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.diag.Warn(msg, keyvals...)
}

// Verbose reports whether command output should be shown.
func (l *Logger) Verbose() bool { return l.verbose }

// DebugMode reports whether debug mode (preserved temp files) is on.
func (l *Logger) DebugMode() bool { return l.debug }

// Writer returns the status output.
func (l *Logger) Writer() io.Writer { return l.out }

// ColorEnabled reports whether status lines are colored.
func (l *Logger) ColorEnabled() bool { return l.color }

// Green styles s as a status line when color is enabled.
func (l *Logger) Green(s string) string {
	if !l.color {
		return s
	}
	return l.infoStyle.Render(s)
}

// Red styles s as a failure line when color is enabled.
func (l *Logger) Red(s string) string {
	if !l.color {
		return s
	}
	return l.errorStyle.Render(s)
}
