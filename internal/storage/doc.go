// Package storage inspects disk images written by the conversion stages.
//
// Converters such as qemu-img can exit zero and still leave behind a file
// that is not what the box expects. Before an image is moved into a box it is
// checked by magic bytes:
//   - QCOW2: Magic bytes "QFI\xfb" at offset 0
//   - RAW: MBR signature 0x55aa at offset 510
//
// For qcow2 images the virtual size is read from the header so the box
// metadata can advertise it.
package storage
