package device

import "fmt"

// OpenNative opens a hardware device of the given kind. This build carries
// no native backends; use an Emulator impersonating the kind instead.
func OpenNative(kind Kind) (Device, error) {
	if kind == KindEmulated {
		return NewEmulator(), nil
	}
	return nil, fmt.Errorf("%w: %s (build without native graphics support)", ErrBackendUnavailable, kind)
}
