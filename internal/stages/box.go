package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/libvirt"
	"github.com/jbweber/boxforge/internal/naming"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/storage"
	"github.com/jbweber/boxforge/internal/task"
)

// metadata is the metadata.json every box carries.
type metadata struct {
	Provider    string `json:"provider"`
	Format      string `json:"format,omitempty"`
	VirtualSize uint64 `json:"virtual_size,omitempty"`
}

func writeMetadata(boxDir string, m metadata) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(boxDir, "metadata.json"), append(b, '\n'), 0o644)
}

func writeTemplate(path, name string, data any) error {
	b, err := render(name, data)
	if err != nil {
		return err
	}
	return writeFile(path, b, 0o644)
}

// newBoxDir creates the directory a box is assembled in.
func newBoxDir(bc *pipeline.BuildContext, col *collector.Collector, stage string) (string, error) {
	dir, err := bc.MkTemp(col, stage)
	if err != nil {
		return "", err
	}
	boxDir := filepath.Join(dir, bc.Config.BoxName+".box")
	if err := os.Mkdir(boxDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create box directory: %w", err)
	}
	return boxDir, nil
}

// finishBox hands the assembled box to the build owner.
func finishBox(ctx context.Context, bc *pipeline.BuildContext, boxDir string) error {
	return bc.Log.Step("Moving the box to the destination...", func() error {
		dst := bc.WorkPath(bc.Config.BoxName + ".box")
		if err := deliver(ctx, bc, boxDir, dst, true); err != nil {
			return err
		}
		bc.Artifacts.BoxDir = dst
		return nil
	})
}

func vagrantfile(bc *pipeline.BuildContext, boxDir, name string) error {
	cfg := bc.Config
	return writeTemplate(filepath.Join(boxDir, "Vagrantfile"), name, vagrantSettings{
		Provider:   string(cfg.BoxFormat),
		GUI:        cfg.GUI,
		Fullscreen: cfg.Fullscreen,
		MemoryMB:   cfg.MemoryMB,
		CPUs:       cfg.CPUCount,
	})
}

func (b *builder) boxFromVMDK(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	boxDir, err := newBoxDir(bc, col, "create_box_from_vmdk")
	if err != nil {
		return err
	}
	cfg := bc.Config

	err = bc.Log.Step("Assembling the box contents...", func() error {
		hw := bc.Hardware.Lookup(bc.MacOSVersion)
		bc.Log.Debug("virtual hardware selected", "rule", hw.Rule, "hw_version", hw.VMwareHWVersion, "guest_os", hw.VMwareGuestOS)
		err := writeTemplate(filepath.Join(boxDir, "macinbox.vmx"), "macinbox.vmx.tmpl", vmxSettings{
			Name:       cfg.BoxName,
			HWVersion:  hw.VMwareHWVersion,
			GuestOS:    hw.VMwareGuestOS,
			CPUs:       cfg.CPUCount,
			MemoryMB:   cfg.MemoryMB,
			HiDPI:      cfg.HiDPI,
			Fullscreen: cfg.Fullscreen,
		})
		if err != nil {
			return err
		}
		if err := writeMetadata(boxDir, metadata{Provider: string(cfg.BoxFormat)}); err != nil {
			return err
		}
		if err := vagrantfile(bc, boxDir, "Vagrantfile.vmware.tmpl"); err != nil {
			return err
		}
		return task.CopyFiles(ctx, bc.Runner, []string{bc.Artifacts.VMDK}, filepath.Join(boxDir, "macinbox.vmdk"), false)
	})
	if err != nil {
		return err
	}
	return finishBox(ctx, bc, boxDir)
}

func (b *builder) boxFromHDD(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	boxDir, err := newBoxDir(bc, col, "create_box_from_hdd")
	if err != nil {
		return err
	}
	cfg := bc.Config

	err = bc.Log.Step("Assembling the box contents...", func() error {
		if err := writeMetadata(boxDir, metadata{Provider: string(cfg.BoxFormat)}); err != nil {
			return err
		}
		if err := vagrantfile(bc, boxDir, "Vagrantfile.parallels.tmpl"); err != nil {
			return err
		}

		if err := product(ctx, bc, prlctl, "create", vmName, "-o", "macos", "--no-hdd", "--dst", boxDir); err != nil {
			return err
		}
		// registered only once create succeeded; a failed create may mean
		// the name belongs to a VM of the user
		col.OnCleanup("unregister "+vmName, func() error {
			return product(context.Background(), bc, prlctl, "unregister", vmName)
		})

		hdd := filepath.Join(boxDir, vmName+".pvm", "macinbox.hdd")
		if err := task.CopyFiles(ctx, bc.Runner, []string{bc.Artifacts.HDD}, hdd, true); err != nil {
			return err
		}
		if err := product(ctx, bc, prlDisk, "convert", "--merge", "--hdd", hdd); err != nil {
			return err
		}

		highRes := "off"
		if cfg.HiDPI {
			highRes = "on"
		}
		settings := [][]string{
			{"--device-add", "hdd", "--image", hdd},
			{"--high-resolution", highRes},
			{"--cpus", strconv.Itoa(cfg.CPUCount)},
			{"--memsize", strconv.Itoa(cfg.MemoryMB)},
		}
		for _, s := range settings {
			if err := product(ctx, bc, prlctl, append([]string{"set", vmName}, s...)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return finishBox(ctx, bc, boxDir)
}

func (b *builder) boxFromVDI(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	boxDir, err := newBoxDir(bc, col, "create_box_from_vdi")
	if err != nil {
		return err
	}
	cfg := bc.Config

	err = bc.Log.Step("Assembling the box contents...", func() error {
		if err := writeMetadata(boxDir, metadata{Provider: string(cfg.BoxFormat)}); err != nil {
			return err
		}
		if err := vagrantfile(bc, boxDir, "Vagrantfile.virtualbox.tmpl"); err != nil {
			return err
		}

		hw := bc.Hardware.Lookup(bc.MacOSVersion)
		if err := product(ctx, bc, vboxManage, "createvm", "--register", "--name", vmName, "--ostype", hw.VirtualBoxOSType); err != nil {
			return err
		}
		col.OnCleanup("unregister "+vmName, func() error {
			return product(context.Background(), bc, vboxManage, "unregistervm", vmName, "--delete")
		})

		const controller = "SATA Controller"
		steps := [][]string{
			{"modifyvm", vmName,
				"--usbxhci", "on",
				"--memory", strconv.Itoa(cfg.MemoryMB),
				"--vram", "128",
				"--cpus", strconv.Itoa(cfg.CPUCount),
				"--firmware", "efi",
				"--chipset", "ich9",
				"--mouse", "usbtablet",
				"--keyboard", "usb"},
			{"setextradata", vmName, "CustomVideoMode1", "1280x800x32"},
			{"setextradata", vmName, "VBoxInternal2/EfiGraphicsResolution", "1280x800"},
		}
		if cfg.HiDPI {
			steps = append(steps, []string{"setextradata", vmName, "GUI/ScaleFactor", "2.0"})
		}
		steps = append(steps,
			[]string{"storagectl", vmName, "--name", controller, "--add", "sata", "--controller", "IntelAHCI", "--hostiocache", "on"},
			[]string{"storageattach", vmName, "--storagectl", controller, "--port", "0", "--device", "0",
				"--type", "hdd", "--nonrotational", "on", "--medium", bc.Artifacts.VDI},
			[]string{"modifyvm", vmName, "--boot1", "disk"},
			[]string{"export", vmName, "-o", filepath.Join(boxDir, "box.ovf")},
		)
		for _, args := range steps {
			if err := product(ctx, bc, vboxManage, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return finishBox(ctx, bc, boxDir)
}

// boxFromQCOW2 assembles a vagrant-libvirt box. The domain definition is
// checked by defining it in libvirt under a throwaway name; the daemon's
// normalized XML is kept in the box as domain.xml.
func (b *builder) boxFromQCOW2(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector) error {
	boxDir, err := newBoxDir(bc, col, "create_box_from_qcow2")
	if err != nil {
		return err
	}
	cfg := bc.Config
	img := filepath.Join(boxDir, "box.img")

	err = bc.Log.Step("Assembling the box contents...", func() error {
		if err := task.CopyFiles(ctx, bc.Runner, []string{bc.Artifacts.QCOW2}, img, false); err != nil {
			return err
		}
		size, err := storage.QCOW2VirtualSize(img)
		if err != nil {
			return err
		}
		const gib = 1 << 30
		m := metadata{Provider: string(cfg.BoxFormat), Format: "qcow2", VirtualSize: (size + gib - 1) / gib}
		if err := writeMetadata(boxDir, m); err != nil {
			return err
		}
		return vagrantfile(bc, boxDir, "Vagrantfile.libvirt.tmpl")
	})
	if err != nil {
		return err
	}

	err = bc.Log.Step("Validating the libvirt domain...", func() error {
		name := naming.BuildDomainName(cfg.BoxName)
		xml, err := libvirt.GenerateDomainXML(libvirt.DomainSpec{
			Name:     name,
			MemoryMB: cfg.MemoryMB,
			CPUs:     cfg.CPUCount,
			DiskPath: img,
			Graphics: cfg.GUI,
		})
		if err != nil {
			return err
		}

		reg, err := b.deps.Connect(ctx, cfg.LibvirtSocket)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		col.OnCleanup("close libvirt connection", reg.Close)
		col.OnCleanup("undefine "+name, func() error { return reg.UndefineDomain(name) })

		defined, err := reg.DefineDomain(xml)
		if err != nil {
			return err
		}
		bc.Log.Debug("domain defined", "name", name)
		return writeFile(filepath.Join(boxDir, "domain.xml"), []byte(defined), 0o644)
	})
	if err != nil {
		return err
	}
	return finishBox(ctx, bc, boxDir)
}
