package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// emuMagic prefixes every module the emulator can load.
var emuMagic = []byte("EMU1")

// EncodeEmuModule produces the loadable bytecode naming a registered kernel.
func EncodeEmuModule(module string) []byte {
	out := make([]byte, 0, len(emuMagic)+2+len(module))
	out = append(out, emuMagic...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(module)))
	return append(out, module...)
}

// DecodeEmuModule returns the kernel name carried by emulator bytecode.
func DecodeEmuModule(bytecode []byte) (string, error) {
	if !bytes.HasPrefix(bytecode, emuMagic) {
		return "", errors.New("device: bytecode is not an emulator module")
	}
	rest := bytecode[len(emuMagic):]
	if len(rest) < 2 {
		return "", errors.New("device: truncated emulator module")
	}
	n := int(binary.LittleEndian.Uint16(rest))
	if len(rest)-2 != n {
		return "", fmt.Errorf("device: module name length %d, have %d bytes", n, len(rest)-2)
	}
	return string(rest[2:]), nil
}
