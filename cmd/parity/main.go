package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/config"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/kernels"
	"github.com/23skdu/longbow-parity/internal/report"
)

const (
	exitPass       = 0
	exitDivergence = 1
	exitFatal      = 2
)

type options struct {
	cfg           config.Config
	listenAddr    string
	collectAddr   string
	maxConcurrent int
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	opts := options{cfg: config.Default()}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("parity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Kernel, "kernel", cfg.Kernel, fmt.Sprintf("Kernel to fuzz (%s)", strings.Join(kernels.Names(), ", ")))
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Expected backend (vulkan, metal, d3d11, opengl, opengles, emulated)")
	fs.BoolVar(&cfg.Emulate, "emulate", cfg.Emulate, "Run on a software device impersonating -backend")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Emulated device arithmetic (exact, fast-math, fp16)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	fs.IntVar(&cfg.MaxIterations, "iterations", cfg.MaxIterations, "Maximum rounds, 0 for no cap")
	fs.DurationVar(&cfg.MaxDuration, "duration", cfg.MaxDuration, "Maximum run time (e.g. 30s, 5m)")
	fs.Float64Var(&cfg.Tolerance, "tolerance", cfg.Tolerance, "Absolute tolerance for float fields")
	fs.IntVar(&cfg.MaxBytes, "max-bytes", cfg.MaxBytes, "Randomize only the first N bytes of each value, 0 for all")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Host worker count, 0 for one per CPU")
	fs.IntVar(&cfg.MaxExamples, "max-examples", cfg.MaxExamples, "Examples shown per field group")
	fs.IntVar(&cfg.ProgressEvery, "progress-every", cfg.ProgressEvery, "Log progress every N rounds, 0 to disable")
	fs.StringVar(&cfg.MaxVRAM, "max-vram", cfg.MaxVRAM, "Emulated device memory budget (e.g. 4GB, 512MB)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics on this address (e.g. :9100)")
	fs.StringVar(&cfg.FlightAddr, "flight-addr", cfg.FlightAddr, "Results server address for ledger upload (e.g. localhost:3000)")
	fs.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "Target dataset name on the results server")
	fs.StringVar(&cfg.LedgerOut, "ledger-out", cfg.LedgerOut, "Write the failure ledger as an Arrow IPC stream")
	fs.StringVar(&cfg.ReportCBOR, "report-cbor", cfg.ReportCBOR, "Write the report summary as CBOR")
	fs.BoolVar(&cfg.OTel, "otel", cfg.OTel, "Enable OpenTelemetry tracing (stdout)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console, json)")
	fs.StringVar(&cfg.CPUProfile, "cpuprofile", cfg.CPUProfile, "Write cpu profile to file")
	fs.StringVar(&opts.listenAddr, "listen", "", "Serve runs over HTTP on this address (e.g. :8080)")
	fs.StringVar(&opts.collectAddr, "collect", "", "Receive uploaded ledgers on a Flight server at this address (e.g. :9090)")
	fs.IntVar(&opts.maxConcurrent, "max-concurrent", 1, "Maximum concurrent runs in -listen mode")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := cfg.Validate(); err != nil {
		return opts, err
	}
	if opts.maxConcurrent <= 0 {
		return opts, fmt.Errorf("invalid max-concurrent: %d (must be positive)", opts.maxConcurrent)
	}
	return opts, nil
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is the whole program; it returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitPass
	}
	if err != nil {
		fmt.Fprintf(stderr, "parity: %v\n", err)
		return exitFatal
	}
	cfg := &opts.cfg
	setupLogging(stderr, cfg.LogLevel, cfg.LogFormat)

	if cfg.OTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
			return exitFatal
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create CPU profile file")
			return exitFatal
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Error().Err(err).Msg("Could not start CPU profile")
			return exitFatal
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listenAddr != "" || opts.collectAddr != "" {
		return runServers(ctx, opts)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}
	return runOnce(ctx, cfg, stdout)
}

// runOnce performs a single parity run and prints its report.
func runOnce(ctx context.Context, cfg *config.Config, stdout io.Writer) int {
	res, err := execute(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Stringer("kind", errs.KindOf(err)).Msg("Parity run failed")
		return exitFatal
	}

	summary := report.Build(res.Ledger, res.Rounds, report.Options{MaxExamples: cfg.MaxExamples})
	if err := report.Render(stdout, summary); err != nil {
		log.Error().Err(err).Msg("Failed to write report")
		return exitFatal
	}
	if err := writeOutputs(ctx, cfg, summary, res.Ledger); err != nil {
		log.Error().Err(err).Msg("Failed to export results")
		return exitFatal
	}

	log.Info().
		Stringer("state", res.State).
		Int("rounds", res.Rounds).
		Dur("elapsed", res.Elapsed).
		Int("failures", res.Ledger.Len()).
		Bool("canceled", res.Canceled).
		Msg("Parity run complete")
	if res.Passed() {
		return exitPass
	}
	return exitDivergence
}

func runServers(ctx context.Context, opts options) int {
	if opts.collectAddr != "" {
		if _, err := startCollector(ctx, opts.collectAddr, NewCollector()); err != nil {
			log.Error().Err(err).Msg("Failed to init ledger collector")
			return exitFatal
		}
		if opts.listenAddr == "" {
			if opts.cfg.MetricsAddr != "" {
				go serveMetrics(opts.cfg.MetricsAddr)
			}
			<-ctx.Done()
			return exitPass
		}
	}

	var exp *client.Exporter
	if opts.cfg.FlightAddr != "" {
		e, err := newExporter(&opts.cfg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create flight client")
			return exitFatal
		}
		defer func() {
			if err := e.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		exp = e
	}

	srv := NewServer(opts.cfg, exp, opts.maxConcurrent)
	if err := serve(ctx, opts.listenAddr, srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		return exitFatal
	}
	return exitPass
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("parity"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
