package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/report"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseFlags([]string{
		"-kernel", "transform",
		"-backend", "metal",
		"-emulate",
		"-mode", "fp16",
		"-seed", "42",
		"-iterations", "7",
		"-duration", "2s",
		"-tolerance", "0.01",
		"-max-examples", "3",
		"-listen", ":8080",
		"-max-concurrent", "4",
	}, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "transform", opts.cfg.Kernel)
	assert.Equal(t, "metal", opts.cfg.Backend)
	assert.True(t, opts.cfg.Emulate)
	assert.Equal(t, "fp16", opts.cfg.Mode)
	assert.Equal(t, uint64(42), opts.cfg.Seed)
	assert.Equal(t, 7, opts.cfg.MaxIterations)
	assert.Equal(t, 2*time.Second, opts.cfg.MaxDuration)
	assert.Equal(t, 0.01, opts.cfg.Tolerance)
	assert.Equal(t, 3, opts.cfg.MaxExamples)
	assert.Equal(t, ":8080", opts.listenAddr)
	assert.Equal(t, 4, opts.maxConcurrent)
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown kernel", []string{"-kernel", "nope"}},
		{"unknown backend", []string{"-backend", "glide"}},
		{"unknown mode", []string{"-mode", "fp8"}},
		{"empty budget", []string{"-iterations", "0", "-duration", "0s"}},
		{"stray argument", []string{"extra"}},
		{"bad concurrency", []string{"-max-concurrent", "0"}},
		{"unknown flag", []string{"-frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			_, err := parseFlags(tt.args, &stderr)
			assert.Error(t, err)
		})
	}
}

func TestRun_Help(t *testing.T) {
	code, _, stderr := runCLI(t, "-h")
	assert.Equal(t, exitPass, code)
	assert.Contains(t, stderr, "-kernel")
}

func TestRun_EmulatedPass(t *testing.T) {
	code, stdout, _ := runCLI(t,
		"-kernel", "identity",
		"-backend", "vulkan",
		"-emulate",
		"-iterations", "3",
		"-workers", "2",
	)
	assert.Equal(t, exitPass, code)
	assert.Contains(t, stdout, "0 failures across 0 invocations in 3 rounds")
}

func TestRun_ExactBuiltinsPass(t *testing.T) {
	code, _, _ := runCLI(t, "-kernel", "builtins", "-iterations", "2")
	assert.Equal(t, exitPass, code)
}

func TestRun_DivergencePrintsReport(t *testing.T) {
	code, stdout, _ := runCLI(t,
		"-kernel", "builtins",
		"-backend", "d3d11",
		"-emulate",
		"-mode", "fast-math",
		"-iterations", "2",
		"-max-examples", "2",
	)
	assert.Equal(t, exitDivergence, code)
	assert.Contains(t, stdout, "invocation ")
	assert.Contains(t, stdout, "occurrences")
	assert.Contains(t, stdout, "round ")
}

func TestRun_NativeBackendUnavailable(t *testing.T) {
	code, stdout, stderr := runCLI(t, "-backend", "vulkan", "-iterations", "1")
	assert.Equal(t, exitFatal, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Parity run failed")
}

func TestRun_InvalidFlags(t *testing.T) {
	code, _, stderr := runCLI(t, "-kernel", "nope")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "invalid kernel")
}

func TestRun_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.arrow")
	reportPath := filepath.Join(dir, "report.cbor")

	code, _, _ := runCLI(t,
		"-kernel", "builtins",
		"-mode", "fast-math",
		"-iterations", "2",
		"-ledger-out", ledgerPath,
		"-report-cbor", reportPath,
		"-log-format", "json",
	)
	require.Equal(t, exitDivergence, code)

	f, err := os.Open(reportPath)
	require.NoError(t, err)
	defer f.Close()
	s, err := report.DecodeCBOR(f)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalRounds)
	assert.Positive(t, s.Failures)
	require.NotEmpty(t, s.Invocations)

	lf, err := os.Open(ledgerPath)
	require.NoError(t, err)
	defer lf.Close()
	r, err := ipc.NewReader(lf)
	require.NoError(t, err)
	defer r.Release()

	var rows int64
	for r.Next() {
		rows += r.Record().NumRows()
	}
	require.NoError(t, r.Err())
	assert.Positive(t, rows)
}

func TestRun_PassWritesNoLedger(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.arrow")

	code, _, _ := runCLI(t, "-kernel", "identity", "-iterations", "1", "-ledger-out", ledgerPath)
	require.Equal(t, exitPass, code)
	_, err := os.Stat(ledgerPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_UploadsToCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCollector()
	srv, err := startCollector(ctx, "localhost:0", c)
	require.NoError(t, err)

	code, _, _ := runCLI(t,
		"-kernel", "builtins",
		"-mode", "fast-math",
		"-iterations", "1",
		"-flight-addr", srv.Addr().String(),
		"-dataset", "nightly",
	)
	require.Equal(t, exitDivergence, code)
	assert.Positive(t, c.Rows("nightly", "builtins"))
	assert.Zero(t, c.Rows("nightly", "transform"))
}

func TestSetupLogging_Levels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			setupLogging(&buf, tt.level, "console")
			assert.Equal(t, tt.expect, zerolog.GlobalLevel())
		})
	}
}
