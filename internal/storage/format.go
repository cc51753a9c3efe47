package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ImageFormat is a disk image container format.
type ImageFormat string

const (
	FormatQCOW2 ImageFormat = "qcow2"
	FormatRaw   ImageFormat = "raw"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is the magic bytes at the start of QCOW2 files: "QFI" + 0xfb
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510 in bootable disks.
	// GPT disks carry it in their protective MBR as well.
	// Reference: https://en.wikipedia.org/wiki/Master_boot_record
	mbrSignature = []byte{0x55, 0xaa}
)

// qcow2SizeOffset is where the big-endian uint64 virtual size sits in a
// qcow2 header.
const qcow2SizeOffset = 24

// DetectImageFormat detects the disk image format by reading magic bytes.
// Returns FormatQCOW2 for QCOW2 images, or FormatRaw for bootable RAW images.
// Returns error if the format is unsupported or the file is not a valid bootable image.
func DetectImageFormat(filePath string) (ImageFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}

	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	if _, err := f.Seek(510, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek to boot sector signature: %w", err)
	}

	sig := make([]byte, 2)
	if _, err := io.ReadFull(f, sig); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}

	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", fmt.Errorf("unsupported or invalid image: not qcow2 and missing boot sector signature (0x55aa at offset 510)")
}

// ExpectFormat fails unless filePath is an image of the wanted format.
func ExpectFormat(filePath string, want ImageFormat) error {
	got, err := DetectImageFormat(filePath)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	if got != want {
		return fmt.Errorf("%s: expected %s image, found %s", filePath, want, got)
	}
	return nil
}

// QCOW2VirtualSize returns the guest-visible size in bytes recorded in a
// qcow2 header.
func QCOW2VirtualSize(filePath string) (uint64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, qcow2SizeOffset+8)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("file too small for qcow2 header: %w", err)
	}
	if !bytes.Equal(header[:4], qcow2Magic) {
		return 0, fmt.Errorf("%s is not a qcow2 image", filePath)
	}
	return binary.BigEndian.Uint64(header[qcow2SizeOffset:]), nil
}
