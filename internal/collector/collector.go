// Package collector records the resources acquired during a build and
// releases them in reverse order.
//
// Stages register a cleanup action right before (or right after) they
// acquire something that must be released: an attached disk, a registered
// VM, a mounted volume. Temporary directories are recorded separately because
// they may be kept for inspection in debug mode.
package collector

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/syntax"
)

// Reporter receives cleanup failures and the preserve-mode removal hint.
type Reporter interface {
	Error(msg string)
	Warn(msg string, keyvals ...any)
}

// Action is a registered cleanup step.
type Action struct {
	Name string
	Fn   func() error
}

// Collector is an ordered registry of cleanup actions and temporary
// directories.
type Collector struct {
	mu       sync.Mutex
	actions  []Action
	tempDirs []string
	closed   bool

	preserve  bool
	report    Reporter
	removeAll func(string) error
}

// New returns an empty Collector reporting to r.
func New(r Reporter) *Collector {
	return &Collector{report: r, removeAll: os.RemoveAll}
}

// SetPreserve keeps temporary directories on cleanup and prints a removal
// command instead.
func (c *Collector) SetPreserve(preserve bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preserve = preserve
}

// AddTempDir records a directory for recursive removal during cleanup.
func (c *Collector) AddTempDir(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.report.Warn("temp dir registered after cleanup", "path", path)
		return
	}
	c.tempDirs = append(c.tempDirs, path)
}

// OnCleanup pushes a cleanup action. Actions run in reverse order of
// registration.
func (c *Collector) OnCleanup(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.report.Warn("cleanup action registered after cleanup", "action", name)
		return
	}
	c.actions = append(c.actions, Action{Name: name, Fn: fn})
}

// TempDirs returns the registered temporary directories in registration
// order.
func (c *Collector) TempDirs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tempDirs)
}

// Len returns the number of pending cleanup actions.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// Cleanup runs every action in reverse order, then removes the temporary
// directories in reverse order. It never fails: errors and panics from
// individual actions are reported and the unwind continues. Only the first
// call has any effect.
func (c *Collector) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	actions := c.actions
	dirs := c.tempDirs
	preserve := c.preserve
	c.actions = nil
	c.tempDirs = nil
	c.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		c.run(actions[i])
	}

	if len(dirs) == 0 {
		return
	}
	if preserve {
		c.report.Error("WARNING: Temporary files were not removed. Run this command to remove them:")
		c.report.Error("sudo rm -rf " + RemovalArgs(dirs))
		return
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := c.removeAll(dirs[i]); err != nil {
			c.report.Warn("failed to remove temp dir", "path", dirs[i], "err", err)
		}
	}
}

func (c *Collector) run(a Action) {
	defer func() {
		if r := recover(); r != nil {
			c.report.Warn("cleanup action panicked", "action", a.Name, "panic", r)
		}
	}()
	if err := a.Fn(); err != nil {
		c.report.Warn("cleanup action failed", "action", a.Name, "err", err)
	}
}

// RemovalArgs shell-quotes dirs, most recent first, one per continuation line.
func RemovalArgs(dirs []string) string {
	quoted := make([]string, 0, len(dirs))
	for i := len(dirs) - 1; i >= 0; i-- {
		quoted = append(quoted, quote(dirs[i]))
	}
	return strings.Join(quoted, " \\\n")
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return fmt.Sprintf("%q", s)
	}
	return q
}
