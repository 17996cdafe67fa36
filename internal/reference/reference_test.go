package reference

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/errs"
)

func TestExecutor_RunsEveryIndex(t *testing.T) {
	buf := make([]int, 1000)
	for i := range buf {
		buf[i] = i
	}
	var calls atomic.Int64
	ex := NewExecutor[int](func(b []int, i int) {
		calls.Add(1)
		b[i] *= 2
	}, 8)

	require.NoError(t, ex.Run(context.Background(), buf))
	assert.Equal(t, int64(1000), calls.Load())
	for i, v := range buf {
		assert.Equal(t, 2*i, v)
	}
}

func TestExecutor_EmptyBuffer(t *testing.T) {
	ex := NewExecutor[int](func(b []int, i int) { t.Fatal("must not be called") }, 0)
	assert.NoError(t, ex.Run(context.Background(), nil))
}

func TestExecutor_PanicPropagates(t *testing.T) {
	buf := make([]float32, 64)
	ex := NewExecutor[float32](func(b []float32, i int) {
		if i == 17 {
			panic("division by zero in reference model")
		}
		b[i] = 1
	}, 4)

	err := ex.Run(context.Background(), buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrReference))
	assert.Contains(t, err.Error(), "invocation 17 panicked")

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	ctx, ok := e.Context.(IndexPanic)
	require.True(t, ok)
	assert.Equal(t, 17, ctx.Index)
	assert.NotEmpty(t, ctx.Stack)
}

func TestExecutor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := NewExecutor[int](func(b []int, i int) {}, 2)
	err := ex.Run(ctx, make([]int, 10))
	assert.ErrorIs(t, err, context.Canceled)
}
