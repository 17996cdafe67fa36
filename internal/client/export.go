package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/report"
)

// ErrCircuitOpen is returned when the breaker refuses an upload.
var ErrCircuitOpen = errors.New("client: circuit breaker open")

// FlightPutter is the upload side of a Flight client.
type FlightPutter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// Exporter ships failure ledgers to an IPC file and/or a Flight server.
type Exporter struct {
	builder *RecordBatchBuilder
	flight  FlightPutter
	breaker *CircuitBreaker
	dataset string
	timeout time.Duration
}

type ExporterOption func(*Exporter)

// WithFlight uploads ledgers to dataset through fc.
func WithFlight(fc FlightPutter, dataset string) ExporterOption {
	return func(e *Exporter) {
		e.flight = fc
		e.dataset = dataset
	}
}

func WithBreaker(cb *CircuitBreaker) ExporterOption {
	return func(e *Exporter) { e.breaker = cb }
}

func WithTimeout(d time.Duration) ExporterOption {
	return func(e *Exporter) { e.timeout = d }
}

func NewExporter(opts ...ExporterOption) *Exporter {
	e := &Exporter{
		builder: NewRecordBatchBuilder(memory.NewGoAllocator()),
		breaker: NewCircuitBreaker(3, 30*time.Second),
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export flattens l and writes it to path (when non-empty) and to the
// Flight server (when configured). An empty ledger exports nothing.
func (e *Exporter) Export(ctx context.Context, kernel string, l *report.Ledger, path string) error {
	rec, err := e.builder.BuildRecordBatch(kernel, l)
	if err != nil {
		return err
	}
	if rec == nil {
		log.Debug().Str("kernel", kernel).Msg("Empty ledger, nothing to export")
		return nil
	}
	defer rec.Release()

	if path != "" {
		if err := writeFile(path, rec); err != nil {
			exportErrors.WithLabelValues("ipc").Inc()
			return fmt.Errorf("write ledger %s: %w", path, err)
		}
		exportedRows.WithLabelValues("ipc").Add(float64(rec.NumRows()))
		log.Info().Str("path", path).Int64("rows", rec.NumRows()).Msg("Wrote failure ledger")
	}

	if e.flight != nil {
		if err := e.put(ctx, rec); err != nil {
			exportErrors.WithLabelValues("flight").Inc()
			return err
		}
		exportedRows.WithLabelValues("flight").Add(float64(rec.NumRows()))
		log.Info().Str("dataset", e.dataset).Int64("rows", rec.NumRows()).Msg("Uploaded failure ledger")
	}
	return nil
}

func (e *Exporter) put(ctx context.Context, rec arrow.RecordBatch) error {
	if !e.breaker.Allow() {
		return ErrCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.flight.DoPut(ctx, e.dataset, rec); err != nil {
		e.breaker.Failure()
		return fmt.Errorf("flight DoPut to %s: %w", e.dataset, err)
	}
	e.breaker.Success()
	return nil
}

// Close closes the Flight client, if any.
func (e *Exporter) Close() error {
	if e.flight == nil {
		return nil
	}
	return e.flight.Close()
}

func writeFile(path string, rec arrow.RecordBatch) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteIPC(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
