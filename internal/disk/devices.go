package disk

import (
	"errors"
	"regexp"
)

// ErrNoDevice is returned when attaching an image did not produce a whole-disk
// device node.
var ErrNoDevice = errors.New("failed to attach the image")

// Devices are the device nodes exposed by one attached image.
type Devices struct {
	// Disk is the whole-disk node carrying the partition scheme.
	Disk string
	// EFI is the EFI system partition, if any.
	EFI string
	// Volume is the HFS+ or APFS data volume, if any.
	Volume string
}

var (
	diskDeviceRe   = regexp.MustCompile(`([^ \n]*)[ \t]+\w*_partition_scheme`)
	efiDeviceRe    = regexp.MustCompile(`([^ \n]*)[ \t]+EFI`)
	volumeDeviceRe = regexp.MustCompile(`([^ \n]*)[ \t]+(Apple_HFS|41504653-0000-11AA-AA11-0030654)`)
	mountPointRe   = regexp.MustCompile(`Mount Point:\s+(.*)`)
)

// ParseDevices extracts device nodes from the listing printed by
// "hdiutil attach -nomount". A listing without a partition scheme line is
// rejected with ErrNoDevice.
func ParseDevices(listing string) (Devices, error) {
	d := Devices{
		Disk:   firstGroup(diskDeviceRe, listing),
		EFI:    firstGroup(efiDeviceRe, listing),
		Volume: firstGroup(volumeDeviceRe, listing),
	}
	if d.Disk == "" {
		return Devices{}, ErrNoDevice
	}
	return d, nil
}

// ParseMountPoint extracts the mount point from "diskutil info" output.
func ParseMountPoint(info string) string {
	return firstGroup(mountPointRe, info)
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}
