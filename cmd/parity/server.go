package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/config"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/report"
)

var (
	runsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_server_runs_total",
		Help: "Runs served over HTTP by outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_server_request_duration_seconds",
		Help:    "Time spent serving run requests",
		Buckets: prometheus.DefBuckets,
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parity_server_active_runs",
		Help: "Runs currently executing",
	})
)

var tracer = otel.Tracer("parity-server")

// RunRequest overrides the server's base configuration for one run.
// Zero fields keep the base value. Tolerance is a pointer so that an
// explicit 0 requests exact comparison.
type RunRequest struct {
	Kernel     string        `cbor:"kernel,omitempty"`
	Backend    string        `cbor:"backend,omitempty"`
	Mode       string        `cbor:"mode,omitempty"`
	Seed       uint64        `cbor:"seed,omitempty"`
	Iterations int           `cbor:"iterations,omitempty"`
	Duration   time.Duration `cbor:"duration,omitempty"`
	Tolerance  *float64      `cbor:"tolerance,omitempty"`
}

type RunResponse struct {
	State   string         `cbor:"state"`
	Passed  bool           `cbor:"passed"`
	Rounds  int            `cbor:"rounds"`
	Elapsed time.Duration  `cbor:"elapsed"`
	Summary report.Summary `cbor:"summary"`
}

type Server struct {
	base     config.Config
	exporter *client.Exporter
	sem      *semaphore.Weighted
}

// NewServer serves runs derived from base, at most maxConcurrent at a time.
// exp may be nil; otherwise divergent ledgers are uploaded through it.
func NewServer(base config.Config, exp *client.Exporter, maxConcurrent int) *Server {
	return &Server{
		base:     base,
		exporter: exp,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) config(req RunRequest) (config.Config, error) {
	cfg := s.base
	if req.Kernel != "" {
		cfg.Kernel = req.Kernel
	}
	if req.Backend != "" {
		cfg.Backend = req.Backend
	}
	if req.Mode != "" {
		cfg.Mode = req.Mode
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.Iterations != 0 {
		cfg.MaxIterations = req.Iterations
	}
	if req.Duration != 0 {
		cfg.MaxDuration = req.Duration
	}
	if req.Tolerance != nil {
		cfg.Tolerance = *req.Tolerance
	}
	// Outputs belong to the server, not to individual requests.
	cfg.LedgerOut = ""
	cfg.ReportCBOR = ""
	return cfg, cfg.Validate()
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleRun")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	cfg, err := s.config(req)
	if err != nil {
		runsServed.WithLabelValues("invalid").Inc()
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("kernel", cfg.Kernel),
		attribute.String("backend", cfg.Backend),
	)

	// Admission control
	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	activeRuns.Inc()
	res, err := execute(ctx, &cfg)
	activeRuns.Dec()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsServed.WithLabelValues("aborted").Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, errs.ErrConfig) || errors.Is(err, errs.ErrBackendMismatch) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	resp := RunResponse{
		State:   res.State.String(),
		Passed:  res.Passed(),
		Rounds:  res.Rounds,
		Elapsed: res.Elapsed,
		Summary: report.Build(res.Ledger, res.Rounds, report.Options{MaxExamples: cfg.MaxExamples}),
	}
	if resp.Passed {
		runsServed.WithLabelValues("passed").Inc()
	} else {
		runsServed.WithLabelValues("diverged").Inc()
		s.forward(ctx, cfg.Kernel, res.Ledger)
	}

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	if err := cbor.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode run response")
	}
}

func (s *Server) forward(ctx context.Context, kernel string, l *report.Ledger) {
	if s.exporter == nil {
		return
	}
	// Upload even when the client has gone away.
	ctx = context.WithoutCancel(ctx)
	if err := s.exporter.Export(ctx, kernel, l, ""); err != nil {
		log.Error().Err(err).Str("kernel", kernel).Msg("Error forwarding failure ledger")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// serve runs the HTTP server until ctx is done.
func serve(ctx context.Context, addr string, srv *Server) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting parity server")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
