// Package fuzz drives a parity run: each round feeds the same random inputs
// to the host reference and to the device, compares every invocation and
// records divergences in the failure ledger.
package fuzz

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-parity/internal/compare"
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/gpu"
	"github.com/23skdu/longbow-parity/internal/kernels"
	"github.com/23skdu/longbow-parity/internal/reference"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/shader"
	"github.com/23skdu/longbow-parity/internal/value"
)

var tracer = otel.Tracer("parity-fuzz")

// State is the controller state.
type State int

const (
	StateSetup State = iota
	StateRunning
	// StateReporting means the run finished with divergences to report.
	StateReporting
	StatePassed
	// StateAborted means a fatal error ended the run.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateReporting:
		return "reporting"
	case StatePassed:
		return "passed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Budget bounds a run. Both bounds are checked after each round, so the
// first round always completes.
type Budget struct {
	// MaxIterations caps the number of rounds; zero means no cap.
	MaxIterations int
	MaxDuration   time.Duration
}

// Exhausted reports whether another round may start.
func (b Budget) Exhausted(rounds int, elapsed time.Duration) bool {
	if b.MaxIterations > 0 && rounds >= b.MaxIterations {
		return true
	}
	return elapsed >= b.MaxDuration
}

type Config struct {
	Seed   uint64
	Budget Budget
	// Expected is the backend the device must report.
	Expected device.Kind
	// Tolerance bounds float leaf differences; zero compares them exactly.
	Tolerance float64
	// MaxBytes limits the random prefix of each generated value; zero
	// randomizes the whole value.
	MaxBytes int
	// Workers bounds generation and host reference parallelism; zero uses
	// every CPU.
	Workers int
	// ProgressEvery logs progress every N rounds; zero disables it.
	ProgressEvery int
}

// Result is the outcome of a run.
type Result struct {
	State       State
	Rounds      int
	Elapsed     time.Duration
	Invocations int
	Ledger      *report.Ledger
	// Canceled is set when ctx ended the run before the budget did.
	Canceled bool
}

// Passed reports whether no invocation diverged.
func (r *Result) Passed() bool {
	return r.Ledger.Empty()
}

// Run fuzzes kernel k on dev until the budget is exhausted. Divergences are
// recorded in the result's ledger and never returned as errors; a non-nil
// error is always fatal and leaves the result in StateAborted.
//
// Device resources are released before Run returns on every path. The
// device itself stays open. ctx is checked only between rounds.
func Run[T comparable](ctx context.Context, cfg Config, k kernels.Kernel[T], dev device.Device, tc shader.Toolchain, compiler shader.Compiler) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "fuzz.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("kernel", k.Name),
		attribute.String("backend", cfg.Expected.String()),
		attribute.Int64("seed", int64(cfg.Seed)),
	)

	res = &Result{
		State:       StateSetup,
		Invocations: k.Invocations,
		Ledger:      report.NewLedger(),
	}
	setState(k.Name, res, StateSetup)
	defer func() {
		if err != nil {
			setState(k.Name, res, StateAborted)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("kernel", k.Name).Int("rounds", res.Rounds).Msg("Parity run aborted")
		}
	}()

	if !value.Decomposable[T]() {
		var zero T
		return res, errs.New(errs.KindConfig, "fuzz.Run",
			fmt.Sprintf("invocation type %T has no field schema", zero), nil)
	}

	drv, err := gpu.Open[T](ctx, dev, tc, compiler, k.Descriptor, cfg.Expected)
	if err != nil {
		return res, err
	}
	defer drv.Close()

	n := k.Invocations
	in := make([]T, n)
	host := make([]T, n)
	out := make([]T, n)
	exec := reference.NewExecutor(k.Reference, cfg.Workers)

	cmp := compare.New(compare.WithTolerance(cfg.Tolerance))

	// Rounds always run to completion once started.
	roundCtx := context.WithoutCancel(ctx)

	setState(k.Name, res, StateRunning)
	log.Info().
		Str("kernel", k.Name).
		Str("device", dev.Name()).
		Stringer("dialect", drv.Dialect()).
		Int("invocations", n).
		Uint64("seed", cfg.Seed).
		Msg("Parity run started")

	start := time.Now()
	for round := 0; ; round++ {
		value.Fill(in, cfg.Seed, round, cfg.Workers, cfg.MaxBytes)
		copy(host, in)

		if err := exec.Run(roundCtx, host); err != nil {
			return res, err
		}
		if err := drv.Round(roundCtx, in, out); err != nil {
			return res, err
		}

		failed := 0
		for i := range host {
			ms := compare.Diff(cmp, host[i], out[i])
			if len(ms) == 0 {
				continue
			}
			failed++
			mismatchesTotal.WithLabelValues(k.Name).Add(float64(len(ms)))
			res.Ledger.Add(i, report.Failure{Round: round, Host: host[i], Device: out[i], Mismatches: ms})
		}
		invocationFailures.WithLabelValues(k.Name).Add(float64(failed))
		roundsTotal.WithLabelValues(k.Name).Inc()

		res.Rounds = round + 1
		res.Elapsed = time.Since(start)

		if cfg.ProgressEvery > 0 && res.Rounds%cfg.ProgressEvery == 0 {
			log.Info().
				Str("kernel", k.Name).
				Int("rounds", res.Rounds).
				Int("failures", res.Ledger.Len()).
				Dur("elapsed", res.Elapsed).
				Msg("Parity run progress")
		}

		if cfg.Budget.Exhausted(res.Rounds, res.Elapsed) {
			break
		}
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
	}

	if res.Ledger.Empty() {
		setState(k.Name, res, StatePassed)
	} else {
		setState(k.Name, res, StateReporting)
	}
	span.SetAttributes(attribute.Int("rounds", res.Rounds), attribute.Int("failures", res.Ledger.Len()))
	log.Info().
		Str("kernel", k.Name).
		Stringer("state", res.State).
		Int("rounds", res.Rounds).
		Int("failures", res.Ledger.Len()).
		Dur("elapsed", res.Elapsed).
		Msg("Parity run finished")
	return res, nil
}

func setState(kernel string, res *Result, s State) {
	res.State = s
	runState.WithLabelValues(kernel).Set(float64(s))
}
