package client

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-parity/internal/compare"
	"github.com/23skdu/longbow-parity/internal/report"
)

// LedgerSchema is the flat, one-row-per-mismatch layout of an exported
// failure ledger. abs_delta is null for non-float leaves.
var LedgerSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "kernel", Type: arrow.BinaryTypes.String},
		{Name: "invocation", Type: arrow.PrimitiveTypes.Int32},
		{Name: "round", Type: arrow.PrimitiveTypes.Int32},
		{Name: "path", Type: arrow.BinaryTypes.String},
		{Name: "left", Type: arrow.BinaryTypes.String},
		{Name: "right", Type: arrow.BinaryTypes.String},
		{Name: "abs_delta", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	},
	nil,
)

// RecordBatchBuilder flattens failure ledgers into Arrow record batches.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch emits one row per mismatch, ordered by invocation,
// then round, then traversal order. An empty ledger yields nil.
func (b *RecordBatchBuilder) BuildRecordBatch(kernel string, l *report.Ledger) (arrow.RecordBatch, error) {
	if l.Empty() {
		return nil, nil
	}

	rb := array.NewRecordBuilder(b.mem, LedgerSchema)
	defer rb.Release()

	kernelB := rb.Field(0).(*array.StringBuilder)
	invB := rb.Field(1).(*array.Int32Builder)
	roundB := rb.Field(2).(*array.Int32Builder)
	pathB := rb.Field(3).(*array.StringBuilder)
	leftB := rb.Field(4).(*array.StringBuilder)
	rightB := rb.Field(5).(*array.StringBuilder)
	deltaB := rb.Field(6).(*array.Float64Builder)

	l.Each(func(idx int, f report.Failure) {
		for _, m := range f.Mismatches {
			kernelB.Append(kernel)
			invB.Append(int32(idx))
			roundB.Append(int32(f.Round))
			pathB.Append(m.Path)
			leftB.Append(fmt.Sprint(m.Left))
			rightB.Append(fmt.Sprint(m.Right))
			if d, ok := compare.AbsDelta(m); ok {
				deltaB.Append(d)
			} else {
				deltaB.AppendNull()
			}
		}
	})

	cols := make([]arrow.Array, len(rb.Fields()))
	for i, fb := range rb.Fields() {
		cols[i] = fb.NewArray()
		defer cols[i].Release()
	}
	return array.NewRecordBatch(LedgerSchema, cols, int64(cols[0].Len())), nil
}

// WriteIPC writes rec as an Arrow IPC stream.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
