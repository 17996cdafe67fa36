// Package reference runs the host-side model of a kernel over an invocation
// buffer, one invocation per index, concurrently.
package reference

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-parity/internal/errs"
)

// Func computes invocation index in place. It must touch only buf[index].
type Func[T any] func(buf []T, index int)

// Executor runs a Func across every index of a buffer.
type Executor[T any] struct {
	fn      Func[T]
	workers int
}

// NewExecutor creates an executor with at most workers goroutines in flight.
// workers <= 0 uses runtime.NumCPU().
func NewExecutor[T any](fn Func[T], workers int) *Executor[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor[T]{fn: fn, workers: workers}
}

// IndexPanic is the context attached to a reference failure.
type IndexPanic struct {
	Index int
	Value any
	Stack string
}

// Run executes every invocation of buf. A panic inside the reference
// computation is a defect in the host model: it is returned as a fatal
// errs.KindReference error and the remaining work is abandoned.
func (e *Executor[T]) Run(ctx context.Context, buf []T) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	chunkSize := (len(buf) + e.workers - 1) / e.workers
	if chunkSize == 0 {
		return nil
	}
	for start := 0; start < len(buf); start += chunkSize {
		end := start + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		s, eIdx := start, end
		g.Go(func() error {
			for i := s; i < eIdx; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := e.invoke(buf, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor[T]) invoke(buf []T, index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.WithContext(errs.KindReference, "reference.Run",
				fmt.Sprintf("invocation %d panicked: %v", index, r), nil,
				IndexPanic{Index: index, Value: r, Stack: string(debug.Stack())})
		}
	}()
	e.fn(buf, index)
	return nil
}
