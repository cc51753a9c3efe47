package stages

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/nvram"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/storage"
	"github.com/jbweber/boxforge/internal/task"
)

// apfsDriver is the host's APFS EFI driver, loaded by the guest firmware so
// it can find boot.efi on the APFS volume.
const apfsDriver = "/usr/standalone/i386/apfs.efi"

// setupEFI writes the payload that lets generic UEFI firmware boot macOS: the
// APFS driver, the SIP NVRAM variable and a startup.nsh that finds boot.efi.
func setupEFI(ctx context.Context, bc *pipeline.BuildContext, d *disk.VirtualDisk, dir string) error {
	return bc.Log.Step("Setting up EFI partition...", func() error {
		at := filepath.Join(dir, "efi_mountpoint")
		if err := os.MkdirAll(at, 0o755); err != nil {
			return err
		}
		if err := d.MountEFI(ctx, at); err != nil {
			return err
		}

		drivers := filepath.Join(at, "EFI", "drivers")
		if err := os.MkdirAll(drivers, 0o755); err != nil {
			return err
		}
		if err := bc.Runner.Run(ctx, task.Command(cp, apfsDriver, drivers+"/")); err != nil {
			return err
		}
		vars := filepath.Join(at, "EFI", "NVRAM")
		if err := os.MkdirAll(vars, 0o755); err != nil {
			return err
		}
		v := nvram.SIPConfig(bc.Config.SIPEnabled)
		if err := nvram.WriteFile(filepath.Join(vars, "csr-active-config.bin"), v); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(at, "startup.nsh"), static("startup.nsh"), 0o644); err != nil {
			return err
		}
		return d.UnmountEFI(ctx)
	})
}

// createVDI converts the installed image into a VirtualBox disk.
func (b *builder) createVDI(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, d, err := b.prepareEFIImage(ctx, bc, col, "create_vdi_from_image")
	if err != nil {
		return err
	}

	out := filepath.Join(dir, "macinbox.vdi")
	err = bc.Log.Step("Converting the image to VDI format...", func() error {
		device, err := d.Device()
		if err != nil {
			return err
		}
		return product(ctx, bc, vboxManage, "convertfromraw", device, out, "--format", "VDI")
	})
	if err != nil {
		return err
	}

	return bc.Log.Step("Moving the VDI to the destination...", func() error {
		if err := d.Eject(ctx); err != nil {
			return err
		}
		dst := bc.WorkPath("macinbox.vdi")
		if err := deliver(ctx, bc, out, dst, false); err != nil {
			return err
		}
		bc.Artifacts.VDI = dst
		return nil
	})
}

// createQCOW2 converts the installed image into a qcow2 disk for libvirt.
func (b *builder) createQCOW2(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, d, err := b.prepareEFIImage(ctx, bc, col, "create_qcow2_from_image")
	if err != nil {
		return err
	}

	out := filepath.Join(dir, "macinbox.qcow2")
	err = bc.Log.Step("Converting the image to QCOW2 format...", func() error {
		device, err := d.Device()
		if err != nil {
			return err
		}
		c := task.Command(qemuImg, "convert", "-p", "-f", "raw", "-O", "qcow2", device, out)
		if err := task.RunWithProgress(ctx, bc.Runner, bc.Progress, bc.Log.Prefix()+"qemu-img", c, task.QemuImgProgress); err != nil {
			return err
		}
		return d.Eject(ctx)
	})
	if err != nil {
		return err
	}

	return bc.Log.Step("Moving the QCOW2 to the destination...", func() error {
		if err := storage.ExpectFormat(out, storage.FormatQCOW2); err != nil {
			return err
		}
		dst := bc.WorkPath("macinbox.qcow2")
		if err := deliver(ctx, bc, out, dst, false); err != nil {
			return err
		}
		bc.Artifacts.QCOW2 = dst
		return nil
	})
}

// prepareEFIImage copies the installed image into a new temp dir, attaches
// it without mounting and writes the EFI payload.
func (b *builder) prepareEFIImage(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, name string) (string, *disk.VirtualDisk, error) {
	dir, err := bc.MkTemp(col, name)
	if err != nil {
		return "", nil, err
	}
	image := filepath.Join(dir, "macinbox.sparseimage")
	if err := copyImage(ctx, bc, bc.Artifacts.Image, image); err != nil {
		return "", nil, err
	}

	var d *disk.VirtualDisk
	err = bc.Log.Step("Attaching the image...", func() error {
		d, err = b.attach(ctx, bc, col, image)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if err := setupEFI(ctx, bc, d, dir); err != nil {
		return "", nil, err
	}
	return dir, d, nil
}
