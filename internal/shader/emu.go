package shader

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/device"
)

// EmuToolchain builds translated source into emulator modules and opens
// emulated devices that carry the registered device kernels. It checks the
// structure of the source it is given, so malformed kernels fail the way
// they would on a native toolchain: with diagnostics and no bytecode.
type EmuToolchain struct {
	kernels map[string]device.EmuKernel
	opts    []device.EmulatorOption
}

// NewEmuToolchain creates a toolchain whose devices are built with opts.
func NewEmuToolchain(opts ...device.EmulatorOption) *EmuToolchain {
	return &EmuToolchain{kernels: make(map[string]device.EmuKernel), opts: opts}
}

// Register supplies the device code for a kernel module.
func (t *EmuToolchain) Register(module string, k device.EmuKernel) {
	t.kernels[module] = k
}

func (t *EmuToolchain) Build(src string, stage Stage, entry string) ([]byte, error) {
	module, dialect, diags := scan(src, entry)
	if stage != StageCompute {
		diags = append(diags, fmt.Sprintf("error: stage %s is not supported, only compute", stage))
	}
	if len(diags) > 0 {
		buildsTotal.WithLabelValues(dialect.String(), "error").Inc()
		return nil, NewCompileError(dialect, entry, strings.Join(diags, "\n"))
	}
	buildsTotal.WithLabelValues(dialect.String(), "ok").Inc()
	log.Debug().Str("module", module).Stringer("dialect", dialect).Str("entry", entry).Msg("Built shader module")
	return device.EncodeEmuModule(module), nil
}

func (t *EmuToolchain) CreateHeadlessDevice(kind device.Kind) (device.Device, error) {
	if kind == device.KindUnknown {
		return nil, fmt.Errorf("%w: %s", device.ErrBackendUnavailable, kind)
	}
	opts := append([]device.EmulatorOption{device.WithKind(kind)}, t.opts...)
	for name, k := range t.kernels {
		opts = append(opts, device.WithKernel(name, k))
	}
	return device.NewEmulator(opts...), nil
}

// scan validates translated source and returns the module it names with
// any diagnostics, one per line, in source order.
func scan(src, entry string) (module string, dialect Dialect, diags []string) {
	dialect = DialectEmu
	depth := 0
	foundEntry := false

	for i, line := range strings.Split(src, "\n") {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		text := strings.TrimSpace(strings.TrimLeft(trimmed, "/;"))

		switch {
		case strings.HasPrefix(text, headerModule):
			module = strings.TrimSpace(strings.TrimPrefix(text, headerModule))
			continue
		case strings.HasPrefix(text, headerDialect):
			d, err := ParseDialect(strings.TrimPrefix(text, headerDialect))
			if err != nil {
				diags = append(diags, fmt.Sprintf("%d: error: %v", n, err))
			} else {
				dialect = d
			}
			continue
		case strings.HasPrefix(text, "#error"):
			diags = append(diags, fmt.Sprintf("%d: error: %s", n, strings.TrimSpace(strings.TrimPrefix(text, "#error"))))
			continue
		}

		if strings.Contains(text, entry+"(") || strings.Contains(text, `"`+entry+`"`) {
			foundEntry = true
		}
		// Emu source keeps the portable KERNEL(Entry) macro.
		if m := kernelRe.FindStringSubmatch(text); m != nil && m[1] == entry {
			foundEntry = true
		}
		for _, r := range text {
			switch r {
			case '{':
				depth++
			case '}':
				depth--
				if depth < 0 {
					diags = append(diags, fmt.Sprintf("%d: error: unmatched '}'", n))
					depth = 0
				}
			}
		}
	}

	if module == "" {
		diags = append(diags, "error: missing "+headerModule+" header")
	}
	if !foundEntry {
		diags = append(diags, fmt.Sprintf("error: entry point %q not found", entry))
	}
	if depth > 0 {
		diags = append(diags, fmt.Sprintf("error: %d unclosed '{' at end of input", depth))
	}
	return module, dialect, diags
}
