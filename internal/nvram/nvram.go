// Package nvram encodes EFI variables in the file format VirtualBox and
// QEMU firmware read at boot.
//
// A variable is stored as
//
//	int32 LE  length of encoded name
//	int32 LE  length of data
//	name      ASCII interleaved with 0x00, terminated by 0x00 0x00
//	guid      16 bytes, first three groups little-endian
//	uint32 LE attributes (always 7)
//	data
//	uint32 LE CRC32 (IEEE) of everything above
package nvram

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/google/uuid"
)

// AppleBootVariableGUID is the vendor GUID of Apple's boot variables.
var AppleBootVariableGUID = uuid.MustParse("7C436110-AB2A-4BBB-A880-FE41995C9F82")

// Attributes are NON_VOLATILE | BOOTSERVICE_ACCESS | RUNTIME_ACCESS.
const Attributes uint32 = 0x07

// CSRActiveConfig is the variable that controls System Integrity Protection.
const CSRActiveConfig = "csr-active-config"

// Variable is one EFI variable.
type Variable struct {
	Name string
	GUID uuid.UUID
	Data []byte
}

// SIPConfig returns the csr-active-config variable for the requested SIP
// state.
func SIPConfig(enabled bool) Variable {
	data := []byte{0x77}
	if enabled {
		data = []byte{0x10}
	}
	return Variable{Name: CSRActiveConfig, GUID: AppleBootVariableGUID, Data: data}
}

// Encode returns the file representation of v.
func (v Variable) Encode() []byte {
	name := make([]byte, 0, 2*len(v.Name)+2)
	for i := 0; i < len(v.Name); i++ {
		name = append(name, v.Name[i], 0x00)
	}
	name = append(name, 0x00, 0x00)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(name)))
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(v.Data)))
	buf.Write(name)
	buf.Write(mixedEndianGUID(v.GUID))
	_ = binary.Write(&buf, binary.LittleEndian, Attributes)
	buf.Write(v.Data)
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

// mixedEndianGUID lays out g the way EFI stores GUIDs: the first three
// groups little-endian, the last two as-is.
func mixedEndianGUID(g uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, g[:])
	b[0], b[1], b[2], b[3] = g[3], g[2], g[1], g[0]
	b[4], b[5] = g[5], g[4]
	b[6], b[7] = g[7], g[6]
	return b
}

// WriteFile writes v to path.
func WriteFile(path string, v Variable) error {
	if err := os.WriteFile(path, v.Encode(), 0o644); err != nil {
		return fmt.Errorf("failed to write NVRAM variable %s: %w", v.Name, err)
	}
	return nil
}
