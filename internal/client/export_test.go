package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/report"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

func TestExporter_WritesIPCFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.arrow")
	e := NewExporter()
	require.NoError(t, e.Export(context.Background(), "builtins", sampleLedger(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := ipc.NewReader(f)
	require.NoError(t, err)
	defer r.Release()
	require.True(t, r.Next())
	assert.Equal(t, int64(3), r.Record().NumRows())
}

func TestExporter_EmptyLedgerIsNoop(t *testing.T) {
	mfc := &mockFlightClient{}
	path := filepath.Join(t.TempDir(), "ledger.arrow")
	e := NewExporter(WithFlight(mfc, "ds"))

	require.NoError(t, e.Export(context.Background(), "builtins", report.NewLedger(), path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	mfc.AssertNotCalled(t, "DoPut", mock.Anything, mock.Anything, mock.Anything)
}

func TestExporter_Flight(t *testing.T) {
	mfc := &mockFlightClient{}
	mfc.On("DoPut", mock.Anything, "parity-results", mock.Anything).Return(nil).Once()

	e := NewExporter(WithFlight(mfc, "parity-results"))
	require.NoError(t, e.Export(context.Background(), "builtins", sampleLedger(), ""))
	mfc.AssertExpectations(t)
	require.NoError(t, e.Close())
}

func TestExporter_BreakerOpensAfterFailures(t *testing.T) {
	mfc := &mockFlightClient{}
	mfc.On("DoPut", mock.Anything, "ds", mock.Anything).Return(errors.New("unavailable")).Times(2)

	e := NewExporter(WithFlight(mfc, "ds"), WithBreaker(NewCircuitBreaker(2, time.Hour)), WithTimeout(time.Second))
	l := sampleLedger()

	assert.Error(t, e.Export(context.Background(), "k", l, ""))
	assert.Error(t, e.Export(context.Background(), "k", l, ""))
	assert.ErrorIs(t, e.Export(context.Background(), "k", l, ""), ErrCircuitOpen)
	mfc.AssertNumberOfCalls(t, "DoPut", 2)
}
