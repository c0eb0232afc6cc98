package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_orders_total",
			Help: "Orders handled by the execution engine",
		},
		[]string{"order_type", "outcome"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradearena_order_duration_seconds",
			Help:    "Order execution latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"order_type"},
	)

	closeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_position_closes_total",
			Help: "Position close attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_sweep_runs_total",
			Help: "Completed sweep runs",
		},
		[]string{"sweep"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradearena_sweep_duration_seconds",
			Help:    "Sweep run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	sweepTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_sweep_triggered_total",
			Help: "Positions closed by the SL/TP sweep",
		},
		[]string{"kind"},
	)

	sweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_sweep_errors_total",
			Help: "Per-position failures inside sweeps",
		},
		[]string{"sweep"},
	)

	disqualifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradearena_disqualifications_total",
			Help: "Accounts frozen for exceeding the drawdown limit",
		},
	)

	priceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_price_lookups_total",
			Help: "Symbol price lookups by serving source",
		},
		[]string{"source"},
	)

	upstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradearena_upstream_fetches_total",
			Help: "Upstream price feed calls",
		},
		[]string{"feed", "outcome"},
	)
)

func RecordOrder(orderType, outcome string, d time.Duration) {
	orderTotal.WithLabelValues(orderType, outcome).Inc()
	orderDuration.WithLabelValues(orderType).Observe(d.Seconds())
}

func RecordClose(trigger, outcome string) {
	closeTotal.WithLabelValues(trigger, outcome).Inc()
}

func RecordSweep(sweep string, d time.Duration, errs int) {
	sweepRuns.WithLabelValues(sweep).Inc()
	sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	if errs > 0 {
		sweepErrors.WithLabelValues(sweep).Add(float64(errs))
	}
}

func RecordTrigger(kind string) {
	sweepTriggered.WithLabelValues(kind).Inc()
}

func RecordDisqualification() {
	disqualifications.Inc()
}

func RecordPriceLookup(source string) {
	priceLookups.WithLabelValues(source).Inc()
}

func RecordUpstreamFetch(feed, outcome string) {
	upstreamFetches.WithLabelValues(feed, outcome).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
