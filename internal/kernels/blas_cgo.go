//go:build cgo

package kernels

// Host references for matrix kernels run on system BLAS (Accelerate on
// macOS, OpenBLAS on Linux) when CGO is available.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("Host reference BLAS: netlib")
}
