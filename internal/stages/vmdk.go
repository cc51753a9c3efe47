package stages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/tools"
	"github.com/jbweber/boxforge/internal/vmdk"
)

// createVMDK converts the installed image into a VMware disk, installing the
// VMware Tools and pre-approving their kernel extensions first.
func (b *builder) createVMDK(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	dir, err := bc.MkTemp(col, "create_vmdk_from_image")
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

	if bc.Config.VMwareTools {
		if err := b.installVMwareTools(ctx, bc, col, dir, mp); err != nil {
			return err
		}
	}

	if err := reattach(ctx, bc, d); err != nil {
		return err
	}

	out := filepath.Join(dir, "macinbox.vmdk")
	err = bc.Log.Step("Converting the image to VMDK format...", func() error {
		device, err := d.Device()
		if err != nil {
			return err
		}
		if bc.Config.UseQemu {
			err = qemuVMDK(ctx, bc, device, dir, out)
		} else {
			err = vmwareVMDK(ctx, bc, device, dir)
		}
		if err != nil {
			return err
		}
		return d.Eject(ctx)
	})
	if err != nil {
		return err
	}

	return bc.Log.Step("Moving the VMDK to the destination...", func() error {
		dst := bc.WorkPath("macinbox.vmdk")
		if err := deliver(ctx, bc, out, dst, false); err != nil {
			return err
		}
		bc.Artifacts.VMDK = dst
		return nil
	})
}

// vmwareVMDK converts through VMware's own tools: a raw disk descriptor
// pointing at the device, then a copy into a monolithic sparse VMDK.
func vmwareVMDK(ctx context.Context, bc *pipeline.BuildContext, device, dir string) error {
	lib := filepath.Join(bc.Config.VMwareApp, "Contents", "Library")
	create := task.Command(filepath.Join(lib, "vmware-rawdiskCreator"), "create", device, "fullDevice", "rawdisk", "lsilogic")
	if err := bc.Runner.Run(ctx, create.In(dir).Silenced()); err != nil {
		return err
	}
	convert := task.Command(filepath.Join(lib, "vmware-vdiskmanager"), "-t", "0", "-r", "rawdisk.vmdk", "macinbox.vmdk")
	return bc.Runner.Run(ctx, convert.In(dir).Silenced())
}

// qemuVMDK converts with qemu-img reading the device through a raw
// descriptor.
func qemuVMDK(ctx context.Context, bc *pipeline.BuildContext, device, dir, out string) error {
	raw := filepath.Join(dir, "rawdisk.vmdk")
	if err := vmdk.CreateRaw(ctx, bc.Runner, device, raw); err != nil {
		return err
	}
	c := task.Command(qemuImg, "convert", "-p", "-O", "vmdk", raw, out)
	return task.RunWithProgress(ctx, bc.Runner, bc.Progress, bc.Log.Prefix()+"qemu-img", c, task.QemuImgProgress)
}

func (b *builder) installVMwareTools(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, dir, mp string) error {
	iso := tools.VMwareISO(bc.Config.VMwareApp)
	if _, err := os.Stat(iso); err != nil {
		err := bc.Log.Step("Downloading the VMware Tools...", func() error {
			var err error
			iso, err = downloadVMwareTools(ctx, bc, dir)
			return err
		})
		if err != nil {
			return err
		}
	}

	err := bc.Log.Step("Installing the VMware Tools...", func() error {
		toolsMP := filepath.Join(dir, "tools_mountpoint")
		td, err := b.mountTools(ctx, bc, col, iso, tools.VMware, toolsMP)
		if err != nil {
			return err
		}

		pkg := filepath.Join(toolsMP, tools.VMware.Installer, "Contents", "Resources", "VMware Tools.pkg")
		expanded := filepath.Join(dir, "tools_package")
		if err := bc.Runner.Run(ctx, task.Command(pkgutil, "--expand", pkg, expanded)); err != nil {
			return err
		}
		payload := filepath.Join(expanded, "files.pkg", "Payload")
		if err := bc.Runner.Run(ctx, task.Command(ditto, "-x", "-z", payload, mp)); err != nil {
			return err
		}

		resources := filepath.Join(mp, "Library", "Filesystems", "vmhgfs.fs", "Contents", "Resources")
		if err := os.MkdirAll(resources, 0o755); err != nil {
			return err
		}
		link := filepath.Join(resources, "mount_vmhgfs")
		if err := os.Symlink("/Library/Application Support/VMware Tools/mount_vmhgfs", link); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to link mount_vmhgfs: %w", err)
		}
		return td.Eject(ctx)
	})
	if err != nil {
		return err
	}

	return bc.Log.Step("Setting the KextPolicy to allow loading the VMware kernel extensions...", func() error {
		db := filepath.Join(mp, "private", "var", "db", "SystemPolicyConfiguration", "KextPolicy")
		return bc.Runner.RunWithInput(ctx, task.Command(sqlite3, db), func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(static("kextpolicy.sql")))
			return err
		})
	})
}

// downloadVMwareTools fetches the darwin tools published for the installed
// VMware Fusion release and returns the extracted image.
func downloadVMwareTools(ctx context.Context, bc *pipeline.BuildContext, dir string) (string, error) {
	plist := filepath.Join(bc.Config.VMwareApp, "Contents", "Info.plist")
	bundle, err := bc.Runner.Capture(ctx, task.Command(defaults, "read", plist, "CFBundleVersion"))
	if err != nil {
		return "", err
	}
	short, err := bc.Runner.Capture(ctx, task.Command(defaults, "read", plist, "CFBundleShortVersionString"))
	if err != nil {
		return "", err
	}

	url := tools.VMwareDownloadURL(short, bundle)
	bc.Log.Debug("downloading VMware Tools", "url", url)
	steps := []task.Cmd{
		task.Command(curl, append([]string{url, "-O"}, quiet(bc, "-s", "-S")...)...),
		task.Command(tar, "-xf", tools.VMwareDownloadArchive, tools.VMwareDownloadZip),
		task.Command(unzip, append(quiet(bc, "-qq"), tools.VMwareDownloadZip, tools.VMwareDownloadISO)...),
	}
	for _, c := range steps {
		if err := bc.Runner.Run(ctx, c.In(dir)); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, tools.VMwareDownloadISO), nil
}
