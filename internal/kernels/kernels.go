// Package kernels holds the compute kernels a parity run can fuzz. Each
// kernel pairs a device entry point with the host model it is checked
// against.
package kernels

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/reference"
)

// Descriptor is the static, type-independent part of a kernel.
type Descriptor struct {
	Name       string
	EntryPoint string
	// Invocations is the number of invocations per dispatch, one per
	// element of the invocation buffer.
	Invocations int
	// Source is the kernel body in the portable shading dialect the
	// compiler translates from.
	Source string
}

func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("kernel descriptor has no name")
	}
	if d.EntryPoint == "" {
		return fmt.Errorf("kernel %q has no entry point", d.Name)
	}
	if d.Invocations <= 0 {
		return fmt.Errorf("kernel %q: invocation count must be positive, got %d", d.Name, d.Invocations)
	}
	return nil
}

// Kernel binds a descriptor to its host reference and to the device code
// the emulator runs for it.
type Kernel[T any] struct {
	Descriptor
	Reference reference.Func[T]
	Device    device.EmuKernel
}

// Mode selects how the emulated device evaluates a kernel.
type Mode int

const (
	// ModeExact evaluates with the same math as the host model.
	ModeExact Mode = iota
	// ModeFastMath uses approximate transcendental functions.
	ModeFastMath
	// ModeHalf stores intermediates in 16-bit floats.
	ModeHalf
)

var modeNames = map[Mode]string{
	ModeExact:    "exact",
	ModeFastMath: "fast-math",
	ModeHalf:     "fp16",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeExact, fmt.Errorf("unknown device mode %q", s)
}

const (
	NameBuiltins  = "builtins"
	NameTransform = "transform"
	NameIdentity  = "identity"
)

var descriptors = map[string]Descriptor{
	NameBuiltins:  builtinsDescriptor,
	NameTransform: transformDescriptor,
	NameIdentity:  identityDescriptor,
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := descriptors[name]
	return d, ok
}

// Names lists the registered kernels in sorted order.
func Names() []string {
	names := make([]string, 0, len(descriptors))
	for n := range descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
