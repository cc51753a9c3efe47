// Package tools locates and inspects the guest-tools images shipped with
// VMware Fusion and Parallels Desktop.
//
// A tools ISO is opened and its root listed before it is handed to hdiutil,
// so a truncated download or a product update that moved the installer is
// reported by name instead of as a failed attach.
package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
)

// ErrMissingEntry is returned by Verify when an expected installer is not
// at the root of the image.
var ErrMissingEntry = errors.New("tools image is missing its installer")

// Kind describes one product's tools image.
type Kind struct {
	// Product names the tools in messages.
	Product string
	// Installer is the top-level entry the image must contain.
	Installer string
}

var (
	VMware = Kind{
		Product:   "VMware Tools",
		Installer: "Install VMware Tools.app",
	}
	Parallels = Kind{
		Product:   "Parallels Tools",
		Installer: "Install.app",
	}
)

// VMwareDownloadURL returns where the darwin tools for a VMware Fusion
// release are published, for bundles that do not ship them.
func VMwareDownloadURL(shortVersion, bundleVersion string) string {
	return fmt.Sprintf("http://softwareupdate.vmware.com/cds/vmw-desktop/fusion/%s/%s/packages/%s",
		shortVersion, bundleVersion, VMwareDownloadArchive)
}

// Names inside the download: a tar holding a zip holding the image.
const (
	VMwareDownloadArchive = "com.vmware.fusion.tools.darwin.zip.tar"
	VMwareDownloadZip     = "com.vmware.fusion.tools.darwin.zip"
	VMwareDownloadISO     = "payload/darwin.iso"
)

// VMwareISO returns the darwin tools image inside a VMware Fusion bundle.
func VMwareISO(app string) string {
	return filepath.Join(app, "Contents", "Library", "isoimages", "darwin.iso")
}

// ParallelsISO returns the macOS tools image inside a Parallels Desktop
// bundle.
func ParallelsISO(app string) string {
	return filepath.Join(app, "Contents", "Resources", "Tools", "prl-tools-mac.iso")
}

// ParallelsPackageDir is where the Parallels installer keeps its component
// packages, relative to the mounted tools image.
const ParallelsPackageDir = "Install.app/Contents/Resources/Install.mpkg/Contents/Packages"

// ParallelsPackages are the component packages installed into the guest.
var ParallelsPackages = []string{
	"Parallels Tools Audio 10.9.pkg",
	"Parallels Tools Coherence.pkg",
	"Parallels Tools CopyPaste.pkg",
	"Parallels Tools DragDrop.pkg",
	"Parallels Tools HostTime.pkg",
	"Parallels Tools InstallationAgent.pkg",
	"Parallels Tools Network 10.9.pkg",
	"Parallels Tools SharedFolders.pkg",
	"Parallels Tools TimeSync.pkg",
	"Parallels Tools ToolGate 10.9.pkg",
	"Parallels Tools Utilities.pkg",
	"Parallels Tools Video 10.9.pkg",
}

// Listing is the root of an ISO image.
type Listing struct {
	Label   string
	Entries []string
}

// Contains reports whether the image root has name. ISO 9660 names are
// mangled (lower case, restricted character set, version suffix), so both
// sides are compared in mangled form.
func (l Listing) Contains(name string) bool {
	want := mangle(name)
	for _, e := range l.Entries {
		if mangle(e) == want {
			return true
		}
	}
	return false
}

func mangle(name string) string {
	name = strings.ToLower(strings.TrimSuffix(name, ";1"))
	var b strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Inspect reads the volume label and root entries of the ISO at path.
func Inspect(path string) (Listing, error) {
	f, err := os.Open(path)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to open tools image: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read %s as an ISO image: %w", path, err)
	}
	label, err := img.Label()
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read volume label of %s: %w", path, err)
	}
	root, err := img.RootDir()
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read root of %s: %w", path, err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return Listing{}, fmt.Errorf("failed to list root of %s: %w", path, err)
	}

	l := Listing{Label: label}
	for _, c := range children {
		l.Entries = append(l.Entries, c.Name())
	}
	return l, nil
}

// Verify inspects the image at path and checks it carries k's installer.
func Verify(path string, k Kind) (Listing, error) {
	l, err := Inspect(path)
	if err != nil {
		return Listing{}, err
	}
	if !l.Contains(k.Installer) {
		return l, fmt.Errorf("%s image %s has no %q: %w", k.Product, path, k.Installer, ErrMissingEntry)
	}
	return l, nil
}
