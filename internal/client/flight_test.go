package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	datasets []string
	rows     int64
}

func (s *mockFlightServer) DoPut(server flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(server)
	if err != nil {
		return err
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	for reader.Next() {
		rec := reader.Record()
		s.mu.Lock()
		if desc != nil && len(desc.Path) > 0 {
			s.datasets = append(s.datasets, desc.Path[0])
		}
		s.rows += rec.NumRows()
		s.mu.Unlock()
	}
	return reader.Err()
}

func startFlightServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mockServer := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mockServer)

	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mockServer, server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	srv, addr := startFlightServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch("builtins", sampleLedger())
	require.NoError(t, err)
	defer rb.Release()

	require.NoError(t, client.DoPut(context.Background(), "parity-results", rb))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, int64(3), srv.rows)
	assert.Equal(t, []string{"parity-results"}, srv.datasets)
}

var _ FlightPutter = (*FlightClient)(nil)
