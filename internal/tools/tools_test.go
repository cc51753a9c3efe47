package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"
)

// writeISO builds an ISO at a temp path with the given files.
func writeISO(t *testing.T, label string, files ...string) string {
	t.Helper()
	w, err := iso9660.NewWriter()
	if err != nil {
		t.Fatalf("failed to create ISO writer: %v", err)
	}
	defer func() { _ = w.Cleanup() }()

	for _, name := range files {
		if err := w.AddFile(strings.NewReader("payload"), name); err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
	}

	path := filepath.Join(t.TempDir(), "tools.iso")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := w.WriteTo(f, label); err != nil {
		t.Fatalf("failed to write ISO: %v", err)
	}
	return path
}

func TestInspect(t *testing.T) {
	path := writeISO(t, "VMWARETOOLS", "Install VMware Tools.app/Contents/Info.plist", "Uninstall.txt")

	l, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if l.Label != "VMWARETOOLS" {
		t.Errorf("expected label VMWARETOOLS, got %q", l.Label)
	}
	if len(l.Entries) != 2 {
		t.Errorf("expected 2 root entries, got %v", l.Entries)
	}
	if !l.Contains("Install VMware Tools.app") {
		t.Errorf("expected installer in %v", l.Entries)
	}
	if l.Contains("Install.app") {
		t.Errorf("did not expect Install.app in %v", l.Entries)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		kind    Kind
		wantErr error
	}{
		{
			name:  "vmware tools present",
			files: []string{"Install VMware Tools.app/Contents/Info.plist"},
			kind:  VMware,
		},
		{
			name:  "parallels tools present",
			files: []string{"Install.app/Contents/Info.plist"},
			kind:  Parallels,
		},
		{
			name:    "wrong product",
			files:   []string{"Install.app/Contents/Info.plist"},
			kind:    VMware,
			wantErr: ErrMissingEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(writeISO(t, "TOOLS", tt.files...), tt.kind)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInspect_NotAnISO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.iso")
	if err := os.WriteFile(path, []byte("truncated download"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatal("expected error for a file that is not an ISO")
	}
	if _, err := Inspect(filepath.Join(t.TempDir(), "missing.iso")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestPaths(t *testing.T) {
	if got := VMwareISO("/Applications/VMware Fusion.app"); got != "/Applications/VMware Fusion.app/Contents/Library/isoimages/darwin.iso" {
		t.Errorf("unexpected VMware ISO path %q", got)
	}
	if got := ParallelsISO("/Applications/Parallels Desktop.app"); got != "/Applications/Parallels Desktop.app/Contents/Resources/Tools/prl-tools-mac.iso" {
		t.Errorf("unexpected Parallels ISO path %q", got)
	}
	want := "http://softwareupdate.vmware.com/cds/vmw-desktop/fusion/11.5.1/15018442/packages/com.vmware.fusion.tools.darwin.zip.tar"
	if got := VMwareDownloadURL("11.5.1", "15018442"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if len(ParallelsPackages) != 12 {
		t.Errorf("expected 12 Parallels packages, got %d", len(ParallelsPackages))
	}
}
