package metrics

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DepositsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_deposits_total",
			Help: "Total successful deposits",
		},
	)

	WithdrawalsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_withdrawals_scheduled_total",
			Help: "Total withdrawals accepted for future execution",
		},
	)

	// WithdrawalsResolved counts terminal withdrawal outcomes by kind:
	// completed, insufficient_funds, settlement_rejected, settlement_error.
	WithdrawalsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_withdrawals_resolved_total",
			Help: "Total withdrawals resolved to a terminal state",
		},
		[]string{"outcome"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wallet_sweep_duration_seconds",
			Help:    "Latency of scheduler sweeps including execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepClaimed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wallet_sweep_claimed",
			Help:    "Withdrawals claimed per sweep",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		DepositsTotal,
		WithdrawalsScheduled,
		WithdrawalsResolved,
		SweepDuration,
		SweepClaimed,
	)
}

// Handler exposes the default registry as a fiber handler.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
