// Package pipeline runs the build stages in order and owns the single
// cleanup path.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/osversion"
	"github.com/jbweber/boxforge/internal/progress"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/ui"
)

// Artifacts are the files stages hand to each other. A stage sets the field
// it produces; later stages read it.
type Artifacts struct {
	Image   string // installed macOS sparse image
	VMDK    string
	HDD     string
	VDI     string
	QCOW2   string
	BoxDir  string // assembled box contents
	Archive string // packaged .box file
}

// BuildContext is the state shared by the stages of one build. Stages run
// one at a time, so it carries no lock.
type BuildContext struct {
	Config   *config.BuildConfig
	Runner   task.Runner
	Log      *ui.Logger
	Progress *progress.Reporter
	Hardware *osversion.Table
	// Owner receives every artifact the build hands to the user.
	Owner disk.Owner

	// WorkDir holds intermediate artifacts; it is a collector temp dir.
	WorkDir string
	// TempRoot is where stage temp dirs are created; empty means os.TempDir.
	TempRoot string

	// InstallerApp is the installer used by the build. It starts as the
	// configured path and is replaced when the installer comes from a dmg.
	InstallerApp string
	// MacOSVersion is the installer's macOS version, once detected.
	MacOSVersion osversion.Version

	Artifacts Artifacts
}

// MkTemp creates a stage temp dir named after name and registers it with
// col.
func (bc *BuildContext) MkTemp(col *collector.Collector, name string) (string, error) {
	dir, err := os.MkdirTemp(bc.TempRoot, name+".")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	col.AddTempDir(dir)
	return dir, nil
}

// WorkPath returns name inside the work dir.
func (bc *BuildContext) WorkPath(name string) string {
	return filepath.Join(bc.WorkDir, name)
}
