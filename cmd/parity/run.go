package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/config"
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/fuzz"
	"github.com/23skdu/longbow-parity/internal/kernels"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/shader"
	"github.com/23skdu/longbow-parity/internal/simd"
)

// execute fuzzes the configured kernel. cfg must be valid.
func execute(ctx context.Context, cfg *config.Config) (*fuzz.Result, error) {
	mode := cfg.DeviceMode()
	switch cfg.Kernel {
	case kernels.NameBuiltins:
		return runKernel(ctx, cfg, kernels.NewBuiltins(mode))
	case kernels.NameTransform:
		return runKernel(ctx, cfg, kernels.NewTransform(mode))
	case kernels.NameIdentity:
		return runKernel(ctx, cfg, kernels.NewIdentity())
	}
	return nil, errs.New(errs.KindConfig, "execute", fmt.Sprintf("unknown kernel %q", cfg.Kernel), nil)
}

func runKernel[T comparable](ctx context.Context, cfg *config.Config, k kernels.Kernel[T]) (*fuzz.Result, error) {
	vram, err := config.ParseBytes(cfg.MaxVRAM)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "runKernel", "invalid max_vram", err)
	}
	tc := shader.NewEmuToolchain(
		device.WithWorkers(cfg.Workers),
		device.WithMemoryBudget(vram),
	)
	tc.Register(k.Name, k.Device)

	dev, err := openDevice(tc, cfg)
	if err != nil {
		return nil, errs.New(errs.KindResource, "runKernel", "failed to open device", err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close device")
		}
	}()

	log.Info().
		Str("kernel", k.Name).
		Str("device", dev.Name()).
		Stringer("backend", dev.Kind()).
		Str("mode", cfg.Mode).
		Uint64("seed", cfg.Seed).
		Str("host_features", simd.FeatureString()).
		Msg("Starting parity run")

	return fuzz.Run(ctx, cfg.Fuzz(), k, dev, tc, shader.NewTranslator())
}

func openDevice(tc *shader.EmuToolchain, cfg *config.Config) (device.Device, error) {
	kind := cfg.BackendKind()
	if cfg.Emulate || kind == device.KindEmulated {
		return tc.CreateHeadlessDevice(kind)
	}
	return device.OpenNative(kind)
}

// writeOutputs persists the summary and the ledger as configured.
func writeOutputs(ctx context.Context, cfg *config.Config, s report.Summary, l *report.Ledger) error {
	if cfg.ReportCBOR != "" {
		f, err := os.Create(cfg.ReportCBOR)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		if err := report.EncodeCBOR(f, s); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode report: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Info().Str("path", cfg.ReportCBOR).Msg("Wrote CBOR report")
	}

	if cfg.LedgerOut == "" && cfg.FlightAddr == "" {
		return nil
	}
	exp, err := newExporter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := exp.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()
	return exp.Export(ctx, cfg.Kernel, l, cfg.LedgerOut)
}

func newExporter(cfg *config.Config) (*client.Exporter, error) {
	var opts []client.ExporterOption
	if cfg.FlightAddr != "" {
		fc, err := client.NewFlightClient(cfg.FlightAddr)
		if err != nil {
			return nil, fmt.Errorf("connect to results server: %w", err)
		}
		log.Info().Str("addr", cfg.FlightAddr).Str("dataset", cfg.Dataset).Msg("Exporting ledger via Flight")
		opts = append(opts, client.WithFlight(fc, cfg.Dataset))
	}
	return client.NewExporter(opts...), nil
}
