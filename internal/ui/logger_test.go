package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogger_StepNesting(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{})

	err := l.Step("Creating image from installer...", func() error {
		return l.Step("Installing macOS...", func() error {
			l.Info("installer log")
			l.Info("deeper still")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info("Done")

	want := "• Creating image from installer...\n" +
		"  + Installing macOS...\n" +
		"    - installer log\n" +
		"    - deeper still\n" +
		"• Done\n"
	if got := buf.String(); got != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", got, want)
	}
}

func TestLogger_StepRestoresDepthOnError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{})
	errBoom := errors.New("boom")

	err := l.Step("outer", func() error {
		return l.Step("inner", func() error { return errBoom })
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if l.Depth() != 0 {
		t.Errorf("expected depth 0 after failed steps, got %d", l.Depth())
	}
}

func TestLogger_PrefixBeyondLastLevel(t *testing.T) {
	l := New(&bytes.Buffer{}, Options{})
	l.depth = 7
	if got := l.Prefix(); got != "    - " {
		t.Errorf("expected deepest prefix, got %q", got)
	}
	l.Reset()
	if got := l.Prefix(); got != "• " {
		t.Errorf("expected top-level prefix after Reset, got %q", got)
	}
}

func TestLogger_ErrorWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{})

	l.Errorf("Error: %s", "failed to attach the image")

	if got := buf.String(); got != "• Error: failed to attach the image\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestLogger_DebugHiddenUnlessVerbose(t *testing.T) {
	var quiet bytes.Buffer
	New(&quiet, Options{}).Debug("running command", "cmd", "hdiutil")
	if quiet.Len() != 0 {
		t.Errorf("expected no diagnostic output, got %q", quiet.String())
	}

	var loud bytes.Buffer
	l := New(&loud, Options{Verbose: true})
	l.Debug("running command", "cmd", "hdiutil")
	if !strings.Contains(loud.String(), "running command") || !strings.Contains(loud.String(), "hdiutil") {
		t.Errorf("expected diagnostic output, got %q", loud.String())
	}
	if !l.Verbose() {
		t.Error("expected Verbose() to be true")
	}
}

func TestNewStderr_DebugImpliesVerbose(t *testing.T) {
	l := NewStderr(false, true)
	if !l.Verbose() || !l.DebugMode() {
		t.Errorf("expected debug to imply verbose, got verbose=%v debug=%v", l.Verbose(), l.DebugMode())
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("expected a buffer not to be a terminal")
	}
}
