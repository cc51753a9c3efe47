package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/tools"
	"github.com/jbweber/boxforge/internal/vmdk"
)

// createHDD converts the installed image into a Parallels disk bundle with
// the Parallels Tools preinstalled.
func (b *builder) createHDD(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, err := bc.MkTemp(col, "create_hdd_from_image")
	if err != nil {
		return err
	}
	image := filepath.Join(dir, "macinbox.sparseimage")
	if err := copyImage(ctx, bc, bc.Artifacts.Image, image); err != nil {
		return err
	}

	mp := filepath.Join(dir, "image_mountpoint")
	var d *disk.VirtualDisk
	err = bc.Log.Step("Attaching the image...", func() error {
		d, err = b.attachMounted(ctx, bc, col, image, mp)
		return err
	})
	if err != nil {
		return err
	}

	if err := bc.Log.Step("Installing the Parallels Tools...", func() error {
		return b.installParallelsTools(ctx, bc, col, dir, mp)
	}); err != nil {
		return err
	}

	if err := reattach(ctx, bc, d); err != nil {
		return err
	}

	err = bc.Log.Step("Converting the image to HDD format...", func() error {
		device, err := d.Device()
		if err != nil {
			return err
		}
		raw := filepath.Join(dir, "macinbox.vmdk")
		if err := vmdk.CreateRaw(ctx, bc.Runner, device, raw); err != nil {
			return err
		}
		convert := filepath.Join(bc.Config.ParallelsApp, "Contents", "MacOS", "prl_convert")
		if err := product(ctx, bc, convert, raw, "--allow-no-os", "--dst="+dir); err != nil {
			return err
		}
		return d.Eject(ctx)
	})
	if err != nil {
		return err
	}

	return bc.Log.Step("Moving the HDD to the destination...", func() error {
		dst := bc.WorkPath("macinbox.hdd")
		if err := deliver(ctx, bc, filepath.Join(dir, "macinbox.hdd"), dst, true); err != nil {
			return err
		}
		bc.Artifacts.HDD = dst
		return nil
	})
}

func (b *builder) installParallelsTools(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, dir, mp string) error {
	iso := tools.ParallelsISO(bc.Config.ParallelsApp)
	toolsMP := filepath.Join(dir, "tools_mountpoint")
	td, err := b.mountTools(ctx, bc, col, iso, tools.Parallels, toolsMP)
	if err != nil {
		return err
	}

	packages := filepath.Join(toolsMP, tools.ParallelsPackageDir)
	expanded := filepath.Join(dir, "tools_packages")
	if err := os.Mkdir(expanded, 0o755); err != nil {
		return err
	}
	for _, pkg := range tools.ParallelsPackages {
		out := filepath.Join(expanded, pkg)
		if err := bc.Runner.Run(ctx, task.Command(pkgutil, "--expand", filepath.Join(packages, pkg), out)); err != nil {
			return err
		}
		if err := bc.Runner.Run(ctx, task.Command(ditto, "-x", "-z", filepath.Join(out, "Payload"), mp)); err != nil {
			return err
		}
	}

	nettool := filepath.Join(mp, "usr", "local", "bin", "prl_nettool")
	if err := os.MkdirAll(filepath.Dir(nettool), 0o755); err != nil {
		return err
	}
	if err := os.Symlink("/Library/Parallels Guest Tools/prl_nettool", nettool); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to link prl_nettool: %w", err)
	}

	fsd := filepath.Join(mp, "Library", "LaunchDaemons", "com.parallels.vm.prl_fsd.plist")
	if err := bc.Runner.Run(ctx, task.Command(sed, "-i", "", "s/PARALLELS_ADDITIONAL_ARGS/--share/", fsd)); err != nil {
		return err
	}

	rcVagrant := filepath.Join(mp, "private", "etc", "rc.vagrant")
	if err := appendFile(rcVagrant, []byte("/Library/Parallels\\ Guest\\ Tools/dynres --enable-retina\n")); err != nil {
		return err
	}
	return td.Eject(ctx)
}
