package disk

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const hfsListing = `/dev/disk4          	GUID_partition_scheme
/dev/disk4s1        	EFI
/dev/disk4s2        	Apple_HFS
`

const apfsListing = `/dev/disk5          	GUID_partition_scheme
/dev/disk5s1        	EFI
/dev/disk5s2        	41504653-0000-11AA-AA11-00306543ECAC
`

func TestParseDevices(t *testing.T) {
	tests := []struct {
		name    string
		listing string
		want    Devices
		wantErr error
	}{
		{
			name:    "hfs image",
			listing: hfsListing,
			want:    Devices{Disk: "/dev/disk4", EFI: "/dev/disk4s1", Volume: "/dev/disk4s2"},
		},
		{
			name:    "apfs image",
			listing: apfsListing,
			want:    Devices{Disk: "/dev/disk5", EFI: "/dev/disk5s1", Volume: "/dev/disk5s2"},
		},
		{
			name:    "no volume",
			listing: "/dev/disk6\tFDisk_partition_scheme\n",
			want:    Devices{Disk: "/dev/disk6"},
		},
		{
			name:    "empty listing",
			listing: "",
			wantErr: ErrNoDevice,
		},
		{
			name:    "no partition scheme",
			listing: "/dev/disk7s1\tApple_HFS\n",
			wantErr: ErrNoDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDevices(tt.listing)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("devices mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMountPoint(t *testing.T) {
	info := "   Device Identifier:         disk4s2\n   Mount Point:               /Volumes/Macintosh HD\n   File System Personality:   HFS+\n"
	if got := ParseMountPoint(info); got != "/Volumes/Macintosh HD" {
		t.Errorf("expected /Volumes/Macintosh HD, got %q", got)
	}
	if got := ParseMountPoint("   Device Identifier: disk4s2\n"); got != "" {
		t.Errorf("expected empty mount point, got %q", got)
	}
}
