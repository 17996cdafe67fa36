package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parity_device_live_resources",
		Help: "Device resources created and not yet released",
	}, []string{"backend"})

	allocatedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parity_device_allocated_bytes",
		Help: "Current bytes allocated in device buffers",
	}, []string{"backend"})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_device_dispatches_total",
		Help: "Total number of compute dispatches executed",
	}, []string{"backend"})

	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_device_invocations_total",
		Help: "Total number of kernel invocations executed",
	}, []string{"backend"})

	copiedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_device_copy_bytes_total",
		Help: "Total bytes moved by buffer copy commands",
	}, []string{"backend"})
)
