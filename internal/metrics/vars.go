// Package metrics exposes Prometheus instrumentation for the scheduler and
// execution engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_opportunities_ingested_total",
		Help: "Opportunities accepted at ingest",
	})

	ValidationRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_validation_rejected_total",
		Help: "Candidates rejected as malformed at ingest",
	})

	DispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_dispatched_total",
		Help: "Opportunities handed to the execution engine",
	})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainarb_executions_total",
		Help: "Finished executions by result",
	}, []string{"result"})

	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainarb_failures_total",
		Help: "Failed executions by class",
	}, []string{"class"})

	ExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_expired_total",
		Help: "Opportunities expired before dispatch",
	})

	RiskDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_risk_denied_total",
		Help: "Executions denied by the risk gate",
	})

	BreakerTripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainarb_breaker_trips_total",
		Help: "Circuit breaker trips",
	})

	PendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainarb_pending",
		Help: "Opportunities currently pending",
	})

	ExecutingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainarb_executing",
		Help: "Executions currently in flight per network",
	}, []string{"network"})

	DailyPnLUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainarb_daily_pnl_usd",
		Help: "Cumulative realized PnL for the current UTC day",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainarb_open_positions",
		Help: "Authorized executions not yet recorded",
	})

	ExecutionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainarb_execution_seconds",
		Help:    "Wall time per execution",
		Buckets: prometheus.DefBuckets,
	})

	ProfitUSD = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainarb_profit_usd",
		Help:    "Realized profit per successful execution",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(
		IngestedTotal,
		ValidationRejectedTotal,
		DispatchedTotal,
		ExecutionsTotal,
		FailuresTotal,
		ExpiredTotal,
		RiskDeniedTotal,
		BreakerTripsTotal,
		PendingGauge,
		ExecutingGauge,
		DailyPnLUSD,
		OpenPositions,
		ExecutionSeconds,
		ProfitUSD,
	)
}
