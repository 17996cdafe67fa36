// Package config holds the settings of a parity run.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/23skdu/longbow-parity/internal/compare"
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/fuzz"
	"github.com/23skdu/longbow-parity/internal/kernels"
	"github.com/23skdu/longbow-parity/internal/report"
)

type Config struct {
	Kernel  string
	Backend string
	// Emulate runs on a software device impersonating Backend.
	Emulate bool
	// Mode selects the emulated device's arithmetic.
	Mode string

	Seed          uint64
	MaxIterations int
	MaxDuration   time.Duration
	Tolerance     float64
	MaxBytes      int
	Workers       int
	MaxExamples   int
	ProgressEvery int
	// MaxVRAM caps emulated device memory, e.g. "512MB". Empty is unlimited.
	MaxVRAM string

	MetricsAddr string
	FlightAddr  string
	Dataset     string
	LedgerOut   string
	ReportCBOR  string

	OTel       bool
	LogLevel   string
	LogFormat  string
	CPUProfile string
}

func Default() Config {
	return Config{
		Kernel:        kernels.NameBuiltins,
		Backend:       device.KindEmulated.String(),
		Mode:          kernels.ModeExact.String(),
		Seed:          1,
		MaxIterations: 100,
		MaxDuration:   30 * time.Second,
		Tolerance:     compare.DefaultTolerance,
		MaxExamples:   report.DefaultMaxExamples,
		ProgressEvery: 10,
		Dataset:       "parity_failures",
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

func (c *Config) Validate() error {
	if _, ok := kernels.Lookup(c.Kernel); !ok {
		return fmt.Errorf("invalid kernel: %q (known: %s)", c.Kernel, strings.Join(kernels.Names(), ", "))
	}
	if _, err := device.ParseKind(c.Backend); err != nil {
		return fmt.Errorf("invalid backend: %w", err)
	}
	if _, err := kernels.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("invalid iterations: %d (must be non-negative)", c.MaxIterations)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("invalid duration: %s (must be non-negative)", c.MaxDuration)
	}
	if c.MaxIterations == 0 && c.MaxDuration == 0 {
		// Still one round, but almost certainly a mistake.
		return fmt.Errorf("invalid budget: iterations and duration are both zero")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("invalid tolerance: %g (must be non-negative)", c.Tolerance)
	}
	if c.MaxBytes < 0 {
		return fmt.Errorf("invalid max_bytes: %d (must be non-negative)", c.MaxBytes)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (must be non-negative)", c.Workers)
	}
	if c.MaxExamples <= 0 {
		return fmt.Errorf("invalid max_examples: %d (must be positive)", c.MaxExamples)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("invalid progress_every: %d (must be non-negative)", c.ProgressEvery)
	}
	if _, err := ParseBytes(c.MaxVRAM); err != nil {
		return fmt.Errorf("invalid max_vram: %w", err)
	}
	if c.FlightAddr != "" && c.Dataset == "" {
		return fmt.Errorf("flight export needs a dataset name")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}

// BackendKind returns the parsed backend. Call Validate first.
func (c *Config) BackendKind() device.Kind {
	k, _ := device.ParseKind(c.Backend)
	return k
}

// DeviceMode returns the parsed emulation mode. Call Validate first.
func (c *Config) DeviceMode() kernels.Mode {
	m, _ := kernels.ParseMode(c.Mode)
	return m
}

// Fuzz derives the controller configuration.
func (c *Config) Fuzz() fuzz.Config {
	return fuzz.Config{
		Seed: c.Seed,
		Budget: fuzz.Budget{
			MaxIterations: c.MaxIterations,
			MaxDuration:   c.MaxDuration,
		},
		Expected:      c.BackendKind(),
		Tolerance:     c.Tolerance,
		MaxBytes:      c.MaxBytes,
		Workers:       c.Workers,
		ProgressEvery: c.ProgressEvery,
	}
}

// ParseBytes reads sizes such as "4GB", "512MB", "64K" or "1024".
// Empty and "0" mean unlimited.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	var val int64
	var unit string
	n, err := fmt.Sscanf(s, "%d%s", &val, &unit)
	if n == 0 {
		return 0, fmt.Errorf("cannot parse size %q: %v", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}

	switch strings.ToUpper(unit) {
	case "GB", "G":
		return val * 1024 * 1024 * 1024, nil
	case "MB", "M":
		return val * 1024 * 1024, nil
	case "KB", "K":
		return val * 1024, nil
	case "", "B":
		return val, nil
	}
	return 0, fmt.Errorf("unknown size unit %q", unit)
}
