package main

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var collectedRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parity_collector_rows_total",
	Help: "Failure ledger rows received by the collector",
}, []string{"dataset", "kernel"})

// Collector is a Flight server that receives exported failure ledgers.
type Collector struct {
	flight.BaseFlightServer
	alloc memory.Allocator

	mu   sync.Mutex
	rows map[collectorKey]int64
}

type collectorKey struct {
	dataset string
	kernel  string
}

func NewCollector() *Collector {
	return &Collector{
		alloc: memory.NewGoAllocator(),
		rows:  make(map[collectorKey]int64),
	}
}

func (c *Collector) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	dataset := "unknown"
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		dataset = desc.Path[0]
	}

	for reader.Next() {
		rec := reader.Record()
		counts := make(map[string]int64)
		if idx := rec.Schema().FieldIndices("kernel"); len(idx) > 0 {
			if col, ok := rec.Column(idx[0]).(*array.String); ok {
				for i := 0; i < col.Len(); i++ {
					counts[col.Value(i)]++
				}
			}
		}
		if len(counts) == 0 {
			counts["unknown"] = rec.NumRows()
		}

		c.mu.Lock()
		for kernel, n := range counts {
			c.rows[collectorKey{dataset, kernel}] += n
			collectedRows.WithLabelValues(dataset, kernel).Add(float64(n))
		}
		c.mu.Unlock()
		log.Info().Str("dataset", dataset).Int64("rows", rec.NumRows()).Msg("Received failure ledger")
	}
	return reader.Err()
}

// Rows returns the ledger rows received for kernel in dataset.
func (c *Collector) Rows(dataset, kernel string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[collectorKey{dataset, kernel}]
}

// startCollector binds addr and serves until ctx is done.
func startCollector(ctx context.Context, addr string, c *Collector) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(c)
	if err := server.Init(addr); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	go func() {
		log.Info().Str("addr", server.Addr().String()).Msg("Starting ledger collector")
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("Ledger collector failed")
		}
	}()
	return server, nil
}
