package gpu

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parity_gpu_round_duration_seconds",
		Help:    "Time for one upload, dispatch and readback round",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"backend"})

	roundErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_gpu_round_errors_total",
		Help: "Total number of rounds that failed on the device",
	}, []string{"backend"})
)
