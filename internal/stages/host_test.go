package stages

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/osversion"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/progress"
	"github.com/jbweber/boxforge/internal/retry"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/task/tasktest"
	"github.com/jbweber/boxforge/internal/ui"
)

const attachListing = "/dev/disk4\tGUID_partition_scheme\n/dev/disk4s1\tEFI\n/dev/disk4s2\tApple_HFS\n"

const fdiskOutput = "Disk: /dev/disk4\tgeometry: 8354/255/63 [134217728 sectors]\n"

// harness is one build context wired to a fake host.
type harness struct {
	t   *testing.T
	bc  *pipeline.BuildContext
	col *collector.Collector
	r   *tasktest.Runner
	out *bytes.Buffer
	b   *builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.BoxName = "testbox"
	cfg.FullName = "Vagrant"
	cfg.Password = "vagrant"
	cfg.BoxesDir = t.TempDir()
	cfg.VMwareApp = t.TempDir()
	cfg.ParallelsApp = t.TempDir()

	u, err := user.Current()
	if err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	log := ui.New(out, ui.Options{})
	h := &harness{
		t:   t,
		r:   tasktest.New(),
		out: out,
		col: collector.New(log),
	}
	h.bc = &pipeline.BuildContext{
		Config:       cfg,
		Runner:       h.r,
		Log:          log,
		Progress:     progress.NewReporter(io.Discard, nil, nil),
		Hardware:     osversion.DefaultTable(),
		Owner:        disk.Owner{Name: u.Username, UID: os.Getuid(), GID: os.Getgid()},
		WorkDir:      t.TempDir(),
		TempRoot:     t.TempDir(),
		InstallerApp: filepath.Join(t.TempDir(), "Install macOS Catalina.app"),
		MacOSVersion: osversion.Parse("10.15.7"),
	}
	h.b = &builder{deps: Deps{
		DiskOptions: []disk.Option{
			disk.WithDeviceCheck(func(string) bool { return true }),
			disk.WithEjectPolicy(retry.Fixed(1, 0)),
		},
	}}
	h.r.Respond = h.respond
	t.Cleanup(h.col.Cleanup)
	return h
}

// respond plays the host tools, creating the files they would produce.
func (h *harness) respond(c task.Cmd) tasktest.Response {
	base := filepath.Base(c.Path)
	args := c.Args
	switch {
	case base == "hdiutil" && args[0] == "create":
		h.touch(lastOperand(args))
	case base == "hdiutil" && args[0] == "attach" && contains(args, "-nomount"):
		return tasktest.Response{Output: attachListing}
	case base == "diskutil" && args[0] == "info":
		return tasktest.Response{Output: "   Mount Point:   /Volumes/Install macOS Catalina\n"}
	case base == "PlistBuddy" && strings.HasPrefix(args[1], "Print"):
		return tasktest.Response{Output: "10.15.7\n"}
	case base == "sw_vers":
		return tasktest.Response{Output: "10.15.7\n"}
	case base == "fdisk":
		return tasktest.Response{Output: fdiskOutput}
	case base == "cp":
		h.copy(args)
	case base == "installer":
		return tasktest.Response{Output: "installer:%10.0\ninstaller:%55.5\ninstaller:%100.0\n"}
	case base == "vmware-vdiskmanager":
		h.touch(filepath.Join(c.Dir, lastOperand(args)))
	case base == "qemu-img":
		h.writeQCOW2(lastOperand(args))
		return tasktest.Response{Output: "    (50.00/100%)\r    (100.00/100%)\n"}
	case base == "prl_convert":
		h.touch(filepath.Join(strings.TrimPrefix(args[len(args)-1], "--dst="), "macinbox.hdd", "macinbox.hdd.0.{5fbaabe3-6958-40ff-92a7-860e329aab41}.hds"))
	case base == "VBoxManage" && args[0] == "convertfromraw":
		h.touch(args[2])
	case base == "VBoxManage" && args[0] == "export":
		h.touch(lastOperand(args))
	}
	return tasktest.Response{}
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func lastOperand(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return ""
}

func (h *harness) touch(path string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		h.t.Fatal(err)
	}
}

// writeQCOW2 writes a qcow2 header announcing a 64 GiB disk.
func (h *harness) writeQCOW2(path string) {
	h.t.Helper()
	header := make([]byte, 512)
	copy(header, []byte{'Q', 'F', 'I', 0xfb})
	binary.BigEndian.PutUint32(header[4:], 3)
	binary.BigEndian.PutUint64(header[24:], 64<<30)
	if err := os.WriteFile(path, header, 0o644); err != nil {
		h.t.Fatal(err)
	}
}

// copy mimics cp [-c] [-R] src... dst.
func (h *harness) copy(args []string) {
	h.t.Helper()
	var operands []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			operands = append(operands, a)
		}
	}
	dst := operands[len(operands)-1]
	for _, src := range operands[:len(operands)-1] {
		info, err := os.Stat(src)
		if err != nil {
			// host files such as apfs.efi are not present in tests
			continue
		}
		target := dst
		if st, err := os.Stat(dst); err == nil && st.IsDir() {
			target = filepath.Join(dst, filepath.Base(src))
		}
		if info.IsDir() {
			if err := os.CopyFS(target, os.DirFS(src)); err != nil {
				h.t.Fatal(err)
			}
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			h.t.Fatal(err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			h.t.Fatal(err)
		}
	}
}

// installerApp creates an installer bundle with its InstallInfo.plist.
func (h *harness) installerApp() {
	h.touch(installInfo(h.bc.InstallerApp))
}

// writeToolsISO builds a tools image at path whose root holds installer.
func writeToolsISO(t *testing.T, path, installer string) {
	t.Helper()
	w, err := iso9660.NewWriter()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Cleanup() }()
	if err := w.AddFile(strings.NewReader("plist"), installer+"/Contents/Info.plist"); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := w.WriteTo(f, "TOOLS"); err != nil {
		t.Fatal(err)
	}
}

// stageDir returns the single temp dir a stage created under TempRoot.
func (h *harness) stageDir(prefix string) string {
	h.t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.bc.TempRoot, prefix+".*"))
	if err != nil || len(matches) != 1 {
		h.t.Fatalf("expected one %s temp dir, got %v (%v)", prefix, matches, err)
	}
	return matches[0]
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
