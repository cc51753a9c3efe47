package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/osversion"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
)

// installInfo is the plist that both identifies the installer's macOS
// version and drives the install.
func installInfo(app string) string {
	return filepath.Join(app, "Contents", "SharedSupport", "InstallInfo.plist")
}

// mountInstaller mounts the installer dmg and points the build at the
// installer app inside it.
func (b *builder) mountInstaller(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, err := bc.MkTemp(col, "mount_installer_image")
	if err != nil {
		return err
	}
	at := filepath.Join(dir, "installer_image_mountpoint")
	if err := os.Mkdir(at, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	d, err := b.attach(ctx, bc, col, bc.Config.InstallerDMG)
	if err != nil {
		return err
	}
	if err := d.Mount(ctx, disk.MountOptions{At: at}); err != nil {
		return err
	}

	apps, err := filepath.Glob(filepath.Join(at, "*.app"))
	if err != nil {
		return err
	}
	if len(apps) != 1 {
		return fmt.Errorf("expected one installer app in %s, found %d", bc.Config.InstallerDMG, len(apps))
	}
	bc.InstallerApp = apps[0]
	bc.Log.Debug("installer app found", "app", bc.InstallerApp)
	return nil
}

// checkVersions records the installer's macOS version and warns when it is
// not the release running on the host.
func (b *builder) checkVersions(ctx context.Context, bc *pipeline.BuildContext, _ *collector.Collector) error {
	plist := installInfo(bc.InstallerApp)
	if _, err := os.Stat(plist); err != nil {
		return errors.New("InstallInfo.plist not found in installer app bundle")
	}

	out, err := bc.Runner.Capture(ctx, task.Command(plistBuddy, "-c", `Print :System\ Image\ Info:version`, plist))
	if err != nil {
		return fmt.Errorf("failed to read installer version: %w", err)
	}
	installerVersion := osversion.Parse(out)
	if installerVersion.IsZero() {
		return fmt.Errorf("could not determine the installer macOS version from %q", out)
	}
	if bc.Config.Debug {
		bc.Log.Infof("Installer macOS version detected: %s", installerVersion)
	}

	out, err = bc.Runner.Capture(ctx, task.Command(swVers, "-productVersion"))
	if err != nil {
		return fmt.Errorf("failed to read host version: %w", err)
	}
	hostVersion := osversion.Parse(out)
	if bc.Config.Debug {
		bc.Log.Infof("Host macOS version detected: %s", hostVersion)
	}

	if !hostVersion.SameRelease(installerVersion) {
		bc.Log.Errorf("Warning: host OS version (%s) and installer OS version (%s) do not match", hostVersion, installerVersion)
	}
	bc.MacOSVersion = installerVersion
	return nil
}
