package client

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/compare"
	"github.com/23skdu/longbow-parity/internal/report"
)

func sampleLedger() *report.Ledger {
	l := report.NewLedger()
	l.Add(4, report.Failure{Round: 1, Mismatches: []compare.Mismatch{
		{Path: "out.x", Left: float32(1), Right: float32(1.5)},
		{Path: "flag", Left: true, Right: false},
	}})
	l.Add(2, report.Failure{Round: 0, Mismatches: []compare.Mismatch{
		{Path: "exp", Left: 2.0, Right: 2.25},
	}})
	return l
}

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty ledger", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch("k", report.NewLedger())
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Flattened", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch("builtins", sampleLedger())
		require.NoError(t, err)
		require.NotNil(t, rb)
		defer rb.Release()

		assert.Equal(t, int64(3), rb.NumRows())
		assert.Equal(t, int64(7), rb.NumCols())
		assert.True(t, rb.Schema().Equal(LedgerSchema))

		kernel := rb.Column(0).(*array.String)
		inv := rb.Column(1).(*array.Int32)
		round := rb.Column(2).(*array.Int32)
		path := rb.Column(3).(*array.String)
		left := rb.Column(4).(*array.String)
		right := rb.Column(5).(*array.String)
		delta := rb.Column(6).(*array.Float64)

		assert.Equal(t, "builtins", kernel.Value(0))

		// Invocation 2 sorts first.
		assert.Equal(t, int32(2), inv.Value(0))
		assert.Equal(t, int32(0), round.Value(0))
		assert.Equal(t, "exp", path.Value(0))
		assert.Equal(t, 0.25, delta.Value(0))

		assert.Equal(t, int32(4), inv.Value(1))
		assert.Equal(t, int32(1), round.Value(1))
		assert.Equal(t, "out.x", path.Value(1))
		assert.Equal(t, "1", left.Value(1))
		assert.Equal(t, "1.5", right.Value(1))
		assert.Equal(t, 0.5, delta.Value(1))

		assert.Equal(t, "flag", path.Value(2))
		assert.Equal(t, "true", left.Value(2))
		assert.True(t, delta.IsNull(2))
	})
}

func TestWriteIPC(t *testing.T) {
	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	rb, err := builder.BuildRecordBatch("builtins", sampleLedger())
	require.NoError(t, err)
	defer rb.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, rb))

	r, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer r.Release()

	require.True(t, r.Next())
	assert.Equal(t, int64(3), r.Record().NumRows())
	assert.False(t, r.Next())
}
