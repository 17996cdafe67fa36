package shader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parity_shader_builds_total",
	Help: "Total number of shader module builds by dialect and result",
}, []string{"dialect", "result"})
