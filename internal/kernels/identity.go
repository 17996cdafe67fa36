package kernels

import (
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/value"
)

// Identity carries integer payloads through the device unchanged. It has no
// Randomizer, so every byte of its layout is random.
type Identity struct {
	Word  uint32
	Half  uint16
	Flags uint8
	Tag   uint8
	Wide  int64
}

func (Identity) Schema() value.Schema {
	return value.Schema{
		value.FieldOf("word", func(v Identity) uint32 { return v.Word }),
		value.FieldOf("half", func(v Identity) uint16 { return v.Half }),
		value.FieldOf("flags", func(v Identity) uint8 { return v.Flags }),
		value.FieldOf("tag", func(v Identity) uint8 { return v.Tag }),
		value.FieldOf("wide", func(v Identity) int64 { return v.Wide }),
	}
}

var identityDescriptor = Descriptor{
	Name:        NameIdentity,
	EntryPoint:  "CSIdentity",
	Invocations: 128,
	Source: `struct Identity {
    uint word; uint packed; int2 wide;
};

BUFFER(Identity, data);

KERNEL(CSIdentity) {
    data[ID.x] = data[ID.x];
}
`,
}

func NewIdentity() Kernel[Identity] {
	noop := func([]Identity, int) {}
	return Kernel[Identity]{
		Descriptor: identityDescriptor,
		Reference:  noop,
		Device:     device.TypedKernel(noop),
	}
}
