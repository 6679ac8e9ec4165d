package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration - латентность запросов к биржам
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeops",
			Subsystem: "exchange",
			Name:      "request_duration_seconds",
			Help:      "Duration of exchange REST requests",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"exchange", "endpoint"},
	)

	// RequestErrors - ошибки запросов к биржам
	RequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "exchange",
			Name:      "request_errors_total",
			Help:      "Total number of failed exchange REST requests",
		},
		[]string{"exchange", "endpoint"},
	)
)
