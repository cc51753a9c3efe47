package task_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jbweber/boxforge/internal/progress"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/task/tasktest"
)

func TestProgressParsers(t *testing.T) {
	tests := []struct {
		name   string
		parse  task.ParseFunc
		line   string
		want   float64
		wantOK bool
	}{
		{name: "installer percent", parse: task.InstallerProgress, line: "installer:%42.5", want: 42.5, wantOK: true},
		{name: "installer phase line", parse: task.InstallerProgress, line: "installer:PHASE:Preparing the disk", wantOK: false},
		{name: "installer garbage", parse: task.InstallerProgress, line: "installer:%abc", wantOK: false},
		{name: "installer prefix only at start", parse: task.InstallerProgress, line: "x installer:%10", wantOK: false},
		{name: "qemu-img", parse: task.QemuImgProgress, line: "    (12.34/100%)", want: 12.34, wantOK: true},
		{name: "qemu-img done", parse: task.QemuImgProgress, line: "(100.00/100%)", want: 100, wantOK: true},
		{name: "qemu-img other", parse: task.QemuImgProgress, line: "Formatting 'x.qcow2'", wantOK: false},
		{name: "vboxmanage", parse: task.VBoxManageProgress, line: "0%...10%...20%...", want: 20, wantOK: true},
		{name: "vboxmanage other", parse: task.VBoxManageProgress, line: "Converting from raw image file", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.parse(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRunWithProgress(t *testing.T) {
	r := tasktest.New()
	r.Respond = func(task.Cmd) tasktest.Response {
		return tasktest.Response{Output: "installer: Package name is macOS\ninstaller:%10.0\ninstaller:%55.5\ninstaller: The upgrade was successful.\n"}
	}
	var out bytes.Buffer
	rep := progress.NewReporter(&out, func() int { return 80 }, nil)

	c := task.Command("/usr/sbin/installer", "-verboseR")
	if err := task.RunWithProgress(context.Background(), r, rep, "  + installer", c, task.InstallerProgress); err != nil {
		t.Fatal(err)
	}

	s := out.String()
	for _, want := range []string{"installer: 0% done", "installer: 10% done", "installer: 56% done"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in output %q", want, s)
		}
	}
	if !strings.HasSuffix(s, progress.ShowCursor+"\n") {
		t.Errorf("expected cursor restored, got %q", s)
	}
}

func TestRunWithProgress_Failure(t *testing.T) {
	r := tasktest.New()
	r.Respond = func(c task.Cmd) tasktest.Response {
		return tasktest.Response{Output: "installer:%3\n", Err: tasktest.Fail(c, 1)}
	}
	var out bytes.Buffer
	rep := progress.NewReporter(&out, nil, nil)

	err := task.RunWithProgress(context.Background(), r, rep, "installer", task.Command("/usr/sbin/installer"), task.InstallerProgress)
	var exitErr *task.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if !strings.HasSuffix(out.String(), progress.ShowCursor+"\n") {
		t.Errorf("expected cursor restored after failure")
	}
}

func TestCopyFiles(t *testing.T) {
	t.Run("clone succeeds", func(t *testing.T) {
		r := tasktest.New()
		if err := task.CopyFiles(context.Background(), r, []string{"/in/a.dmg"}, "/out/b.sparseimage", false); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"/bin/cp -c /in/a.dmg /out/b.sparseimage"}, r.Lines()); diff != "" {
			t.Errorf("unexpected commands (-want +got):\n%s", diff)
		}
	})

	t.Run("falls back to plain copy", func(t *testing.T) {
		r := tasktest.New()
		r.Respond = func(c task.Cmd) tasktest.Response {
			if len(c.Args) > 0 && c.Args[0] == "-c" {
				return tasktest.Response{Err: tasktest.Fail(c, 1)}
			}
			return tasktest.Response{}
		}
		err := task.CopyFiles(context.Background(), r, []string{"/box/a", "/box/b"}, "/boxes/x", true)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			"/bin/cp -c -R /box/a /box/b /boxes/x",
			"/bin/cp -R /box/a /box/b /boxes/x",
		}
		if diff := cmp.Diff(want, r.Lines()); diff != "" {
			t.Errorf("unexpected commands (-want +got):\n%s", diff)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		r := tasktest.New()
		r.Respond = func(c task.Cmd) tasktest.Response { return tasktest.Response{Err: tasktest.Fail(c, 1)} }
		if err := task.CopyFiles(context.Background(), r, []string{"/a"}, "/b", false); err == nil {
			t.Fatal("expected error when both copies fail")
		}
	})
}
