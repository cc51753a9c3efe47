package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
)

// VagrantInsecureKey is the public half of Vagrant's well-known key pair,
// installed for the vagrant user unless another key is configured.
const VagrantInsecureKey = "ssh-rsa AAAAB3NzaC1yc2EAAAABIwAAAQEA6NF8iallvQVp22WDkTkyrtvp9eWW6A8YVr+kz4TjGYe7gHzIw+niNltGEFHzD8+v1I2YJ6oXevct1YeS0o9HZyN1Q9qgCgzUFtdOKLv6IedplqoPkcmF0aYet2PkEDo3MlTBckFXPITAMzF8dJSIFo9D8HfdOV0IAdx4O7PtixWKn5y2hMNG0zQPyUecp4pzC6kivAIhyfHilFR61RGL+GPXQ2MWZWFYbAGjyiYJnAmCP3NOTd0jMZEnDkbUvxhMmBYSdETk1rRgm+R4LOzFUGaHqHDLKLX+FIPKcF96hrucXzcWyLbIbEgE98OHlnVYCzRdK8jlqm8tehUc9c9WhQ== vagrant insecure public key"

// createImage installs macOS from the installer app into a fresh sparse
// image and prepares the first boot: user account, ssh key, sudo, sshd.
func (b *builder) createImage(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, err := bc.MkTemp(col, "create_image_from_installer")
	if err != nil {
		return err
	}
	app := bc.InstallerApp

	var wrapperMountpoint string
	err = bc.Log.Step("Creating and attaching wrapper disk image...", func() error {
		image := filepath.Join(dir, "wrapper.dmg")
		if err := b.disk(bc, image).CreateFromFolder(ctx, app); err != nil {
			return err
		}
		wrapper, err := b.attach(ctx, bc, col, image)
		if err != nil {
			return err
		}
		if err := wrapper.Mount(ctx, disk.MountOptions{}); err != nil {
			return err
		}
		wrapperMountpoint, err = wrapper.Mountpoint(ctx)
		return err
	})
	if err != nil {
		return err
	}

	mp := filepath.Join(dir, "scratch_mountpoint")
	var scratch *disk.VirtualDisk
	err = bc.Log.Step("Creating and attaching a new blank disk image...", func() error {
		image := filepath.Join(dir, "scratch.sparseimage")
		if err := b.disk(bc, image).Create(ctx, bc.Config.DiskSizeGB, bc.Config.FSType); err != nil {
			return err
		}
		scratch, err = b.attachMounted(ctx, bc, col, image, mp)
		return err
	})
	if err != nil {
		return err
	}

	err = bc.Log.Step("Installing macOS...", func() error {
		if err := writeFile(filepath.Join(mp, ".macinbox"), nil, 0o644); err != nil {
			return err
		}
		pkg := installInfo(filepath.Join(wrapperMountpoint, filepath.Base(app)))
		c := task.Command(installer, "-verboseR", "-dumplog", "-pkg", pkg, "-target", mp)
		c.MergeStderr = !bc.Config.Debug
		return task.RunWithProgress(ctx, bc.Runner, bc.Progress, bc.Log.Prefix()+"installer", c, task.InstallerProgress)
	})
	if err != nil {
		return err
	}

	if err := configureGuest(ctx, bc, mp); err != nil {
		return err
	}

	return bc.Log.Step("Saving the image...", func() error {
		if err := scratch.Eject(ctx); err != nil {
			return err
		}
		image := filepath.Join(dir, "macinbox.dmg")
		if err := os.Rename(scratch.Image(), image); err != nil {
			return fmt.Errorf("failed to rename image: %w", err)
		}
		out := bc.WorkPath("macinbox.dmg")
		if err := deliver(ctx, bc, image, out, false); err != nil {
			return err
		}
		bc.Artifacts.Image = out
		return nil
	})
}

// configureGuest writes the first-boot configuration into the installed
// system mounted at mp.
func configureGuest(ctx context.Context, bc *pipeline.BuildContext, mp string) error {
	cfg := bc.Config
	etc := filepath.Join(mp, "private", "etc")
	rcVagrant := filepath.Join(etc, "rc.vagrant")

	if err := writeFile(filepath.Join(etc, "rc.installer_cleanup"), static("rc.installer_cleanup"), 0o755); err != nil {
		return err
	}
	if err := writeFile(rcVagrant, static("rc.vagrant"), 0o755); err != nil {
		return err
	}

	err := bc.Log.Step("Configuring the primary user account...", func() error {
		plist, err := render("InstallerConfiguration.plist.tmpl", userAccount{
			FullName:      cfg.FullName,
			ShortName:     cfg.ShortName,
			Password:      cfg.Password,
			AutoLogin:     cfg.AutoLogin,
			SkipMiniBuddy: cfg.SkipMiniBuddy,
		})
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(mp, "private", "var", "db", ".InstallerConfiguration"), plist, 0o644)
	})
	if err != nil {
		return err
	}

	if key, title := sshKey(cfg.ShortName, cfg.AuthorizedKey); key != "" {
		err := bc.Log.Step(title, func() error {
			quoted, err := syntax.Quote(key, syntax.LangPOSIX)
			if err != nil {
				return fmt.Errorf("cannot quote ssh key: %w", err)
			}
			script, err := render("authorized_key.sh.tmpl", authorizedKey{Home: "/Users/" + cfg.ShortName, Key: quoted})
			if err != nil {
				return err
			}
			return appendFile(rcVagrant, script)
		})
		if err != nil {
			return err
		}
	}

	err = bc.Log.Step("Enabling password-less sudo...", func() error {
		rule := fmt.Sprintf("%s ALL=(ALL) NOPASSWD: ALL\n", cfg.ShortName)
		return writeFile(filepath.Join(etc, "sudoers.d", cfg.ShortName), []byte(rule), 0o440)
	})
	if err != nil {
		return err
	}

	err = bc.Log.Step("Enabling sshd...", func() error {
		disabled := filepath.Join(mp, "private", "var", "db", "com.apple.xpc.launchd", "disabled.plist")
		return bc.Runner.Run(ctx, task.Command(plistBuddy, "-c", "Add :com.openssh.sshd bool False", disabled).Silenced())
	})
	if err != nil {
		return err
	}

	if cfg.HiDPI {
		err := bc.Log.Step("Enabling HiDPI resolutions...", func() error {
			prefs := filepath.Join(mp, "Library", "Preferences", "com.apple.windowserver.plist")
			return writeFile(prefs, static("com.apple.windowserver.plist"), 0o644)
		})
		if err != nil {
			return err
		}
	}

	if cfg.UserScript != "" {
		return bc.Log.Step("Running user script...", func() error {
			return bc.Runner.Run(ctx, task.Command(cfg.UserScript, mp))
		})
	}
	return nil
}

// sshKey picks the key installed for the primary user and the status line
// announcing it. The vagrant user gets the insecure key unless one is given.
func sshKey(shortName, authorized string) (key, title string) {
	switch {
	case authorized != "":
		return authorized, "Installing the authorized ssh key..."
	case shortName == "vagrant":
		return VagrantInsecureKey, "Installing the default insecure vagrant ssh key..."
	default:
		return "", ""
	}
}
