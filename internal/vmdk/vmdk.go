// Package vmdk writes VMDK descriptors that point at raw block devices.
package vmdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"text/template"

	"github.com/jbweber/boxforge/internal/task"
)

// ErrNoGeometry is returned when fdisk output carries no geometry line.
var ErrNoGeometry = errors.New("failed to determine disk geometry")

// BIOSCylinders is the fixed cylinder count reported to the BIOS.
const BIOSCylinders = 1024

// Geometry is a device geometry as printed by fdisk.
type Geometry struct {
	Cylinders       uint64
	HeadsPerTrack   uint64
	SectorsPerTrack uint64
	Sectors         uint64
}

var geometryRe = regexp.MustCompile(`geometry: (\d+)/(\d+)/(\d+) \[(\d+) sectors\]`)

// ParseGeometry reads the "geometry: C/H/S [N sectors]" line from fdisk
// output.
func ParseGeometry(fdiskOutput string) (Geometry, error) {
	m := geometryRe.FindStringSubmatch(fdiskOutput)
	if m == nil {
		return Geometry{}, ErrNoGeometry
	}
	var vals [4]uint64
	for i := range vals {
		v, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return Geometry{}, fmt.Errorf("%w: %v", ErrNoGeometry, err)
		}
		vals[i] = v
	}
	return Geometry{
		Cylinders:       vals[0],
		HeadsPerTrack:   vals[1],
		SectorsPerTrack: vals[2],
		Sectors:         vals[3],
	}, nil
}

var descriptorTmpl = template.Must(template.New("vmdk").Parse(`# Disk DescriptorFile
version=1
encoding="UTF-8"
CID=fffffffe
parentCID=ffffffff
isNativeSnapshot="no"
createType="monolithicFlat"

# Extent description
RW {{.G.Sectors}} FLAT "{{.Device}}" 0

# The Disk Data Base
#DDB

ddb.adapterType = "lsilogic"
ddb.deletable = "true"
ddb.geometry.biosCylinders = "{{.BIOSCylinders}}"
ddb.geometry.biosHeads = "{{.G.HeadsPerTrack}}"
ddb.geometry.biosSectors = "{{.G.SectorsPerTrack}}"
ddb.geometry.cylinders = "{{.G.Cylinders}}"
ddb.geometry.heads = "{{.G.HeadsPerTrack}}"
ddb.geometry.sectors = "{{.G.SectorsPerTrack}}"
ddb.longContentID = "9fa218b506cfe68615c39994fffffffe"
ddb.uuid = "60 00 C2 99 91 76 dd 77-6e 0d 84 8b b0 24 6e 00"
ddb.virtualHWVersion = "14"
`))

// WriteDescriptor writes a monolithicFlat descriptor for device with
// geometry g.
func WriteDescriptor(w io.Writer, device string, g Geometry) error {
	return descriptorTmpl.Execute(w, struct {
		Device        string
		G             Geometry
		BIOSCylinders int
	}{device, g, BIOSCylinders})
}

// CreateRaw queries the geometry of device with fdisk and writes a raw
// descriptor for it to output.
func CreateRaw(ctx context.Context, r task.Runner, device, output string) error {
	info, err := r.Capture(ctx, task.Command("/usr/sbin/fdisk", device))
	if err != nil {
		return fmt.Errorf("failed to read geometry of %s: %w", device, err)
	}
	g, err := ParseGeometry(info)
	if err != nil {
		return fmt.Errorf("%s: %w", device, err)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	if err := WriteDescriptor(f, device, g); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	return f.Close()
}
