package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_ledger_export_rows_total",
		Help: "Total number of ledger rows exported by sink",
	}, []string{"sink"})

	exportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_ledger_export_errors_total",
		Help: "Total number of failed ledger exports by sink",
	}, []string{"sink"})
)
