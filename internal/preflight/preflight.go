// Package preflight verifies the host before a build acquires anything.
package preflight

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/disk"
)

// Error is a failed precondition. Nothing has been created when it is
// returned, so callers report it and exit without cleanup.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func failf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// IsPrecondition reports whether err is a failed precondition.
func IsPrecondition(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Host is the view of the machine the checks need.
type Host struct {
	Getuid      func() int
	Exists      func(path string) bool
	FreeSpaceGB func(dir string) (uint64, error)
	TempDir     string
}

// DefaultHost inspects the running machine.
func DefaultHost() Host {
	return Host{
		Getuid: unix.Getuid,
		Exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
		FreeSpaceGB: disk.FreeSpaceGB,
		TempDir:     os.TempDir(),
	}
}

// minFreeGB is the space a macOS install needs in the temporary directory.
const minFreeGB = 20

// Check verifies cfg against h. Failures return *Error; conditions that may
// still work out are returned as warnings.
func Check(cfg *config.BuildConfig, h Host) (warnings []string, err error) {
	if h.Getuid() != 0 || cfg.SudoUser == "" {
		return nil, failf("script must be run as root with sudo")
	}

	if cfg.InstallerDMG != "" {
		if !h.Exists(cfg.InstallerDMG) {
			return nil, failf("Installer disk image not found: %s", cfg.InstallerDMG)
		}
	} else if !h.Exists(cfg.Installer) {
		return nil, failf("Installer app not found: %s", cfg.Installer)
	}

	for _, tool := range []string{"/usr/bin/hdiutil", "/usr/sbin/diskutil", "/usr/sbin/installer"} {
		if !h.Exists(tool) {
			return nil, failf("required tool not found: %s", tool)
		}
	}

	switch {
	case cfg.BoxFormat.IsVMware():
		if !h.Exists(cfg.VMwareApp) {
			return nil, failf("VMware Fusion app not found: %s", cfg.VMwareApp)
		}
	case cfg.BoxFormat == config.Parallels:
		if !h.Exists(cfg.ParallelsApp) {
			return nil, failf("Parallels Desktop app not found: %s", cfg.ParallelsApp)
		}
	}

	if cfg.UserScript != "" && !h.Exists(cfg.UserScript) {
		return nil, failf("User script not found: %s", cfg.UserScript)
	}
	if cfg.HardwareTable != "" && !h.Exists(cfg.HardwareTable) {
		return nil, failf("Hardware table not found: %s", cfg.HardwareTable)
	}
	if cfg.BoxesDir == "" {
		return nil, failf("boxes directory is unknown: set VAGRANT_HOME or boxes_dir")
	}
	if cfg.OutputDir != "" && !h.Exists(cfg.OutputDir) {
		return nil, failf("Output directory not found: %s", cfg.OutputDir)
	}

	if h.FreeSpaceGB != nil {
		free, ferr := h.FreeSpaceGB(h.TempDir)
		switch {
		case ferr != nil:
			warnings = append(warnings, fmt.Sprintf("could not determine free space in %s: %v", h.TempDir, ferr))
		case free < minFreeGB:
			warnings = append(warnings, fmt.Sprintf("only %dGB free in %s, the build may run out of space", free, h.TempDir))
		}
	}

	return warnings, nil
}
