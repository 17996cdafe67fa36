package fuzz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_rounds_total",
		Help: "Total number of completed fuzz rounds",
	}, []string{"kernel"})

	mismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_mismatches_total",
		Help: "Total number of leaf mismatches between host and device",
	}, []string{"kernel"})

	invocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_invocation_failures_total",
		Help: "Total number of invocations that diverged in a round",
	}, []string{"kernel"})

	runState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parity_run_state",
		Help: "Current controller state (0 setup, 1 running, 2 reporting, 3 passed, 4 aborted)",
	}, []string{"kernel"})
)
