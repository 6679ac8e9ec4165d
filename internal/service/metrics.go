package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики монитора зависших ордеров
var (
	// StuckOrdersDetected - число зависших ордеров тенанта по последнему сканированию
	StuckOrdersDetected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Name:      "stuck_orders_detected",
			Help:      "Number of stuck orders found by the last scan",
		},
		[]string{"tenant"},
	)

	// StuckOrderScans - число сканирований
	StuckOrderScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Name:      "stuck_order_scans_total",
			Help:      "Total number of stuck order scans",
		},
	)

	// ResolutionAttempts - попытки разрешения по действию и результату
	ResolutionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Name:      "resolution_attempts_total",
			Help:      "Total number of stuck order resolution attempts",
		},
		[]string{"action", "result"},
	)

	// ManualInterventions - эскалации на ручное вмешательство
	ManualInterventions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Name:      "manual_interventions_total",
			Help:      "Total number of stuck orders escalated to manual intervention",
		},
	)
)

// Значения метки result
const (
	resultSuccess = "success"
	resultFailure = "failure"
)
