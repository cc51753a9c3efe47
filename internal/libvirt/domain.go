package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DomainSpec describes the macOS guest a libvirt box boots.
type DomainSpec struct {
	Name     string
	MemoryMB int
	CPUs     int
	// DiskPath is the absolute path of the qcow2 system disk.
	DiskPath string
	// Type is the hypervisor driver; empty means "hvf".
	Type string
	// Graphics adds a VNC display; without it the guest is headless.
	Graphics bool
}

// GenerateDomainXML generates libvirt domain XML for a macOS guest booting
// from a qcow2 disk through UEFI.
func GenerateDomainXML(spec DomainSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if spec.DiskPath == "" {
		return "", fmt.Errorf("disk path is required")
	}
	if spec.MemoryMB <= 0 || spec.CPUs <= 0 {
		return "", fmt.Errorf("memory and cpu count must be positive")
	}
	domType := spec.Type
	if domType == "" {
		domType = "hvf"
	}

	domain := &libvirtxml.Domain{
		Type: domType,
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(spec.CPUs),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: "efi",
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: "q35",
				Type:    "hvm",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode:  "custom",
			Match: "exact",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
				Value:    "Penryn",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{
						Name:  "qemu",
						Type:  "qcow2",
						Cache: "writeback",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: spec.DiskPath},
					},
					// the installed system has no virtio drivers
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "sda",
						Bus: "sata",
					},
					Boot: &libvirtxml.DomainDeviceBoot{Order: 1},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: "default"},
					},
					Model: &libvirtxml.DomainInterfaceModel{Type: "e1000-82545em"},
				},
			},
			Inputs: []libvirtxml.DomainInput{
				{Type: "tablet", Bus: "usb"},
				{Type: "keyboard", Bus: "usb"},
			},
			Controllers: []libvirtxml.DomainController{
				{Type: "usb", Model: "qemu-xhci"},
			},
		},
		// On Apple hosts QEMU reads the SMC key from the host.
		QEMUCommandline: &libvirtxml.DomainQEMUCommandline{
			Args: []libvirtxml.DomainQEMUCommandlineArg{
				{Value: "-device"},
				{Value: "isa-applesmc"},
			},
		},
	}

	if spec.Graphics {
		domain.Devices.Graphics = []libvirtxml.DomainGraphic{
			{VNC: &libvirtxml.DomainGraphicVNC{AutoPort: "yes", Listen: "127.0.0.1"}},
		}
		domain.Devices.Videos = []libvirtxml.DomainVideo{
			{Model: libvirtxml.DomainVideoModel{Type: "vga", VRam: 16384, Heads: 1, Primary: "yes"}},
		}
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}
