// Package metrics holds the process-wide Prometheus collectors
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AutobuyRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_bot_autobuy_runs_total",
		Help: "Autobuy job invocations by outcome (completed, skipped, aborted)",
	}, []string{"outcome"})

	AutobuyOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_bot_autobuy_orders_total",
		Help: "Autobuy orders by result",
	}, []string{"result"})

	BrokerRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invest_bot_broker_request_duration_seconds",
		Help:    "Brokerage API latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	BrokerBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "invest_bot_broker_breaker_state",
		Help: "0=closed, 1=half_open, 2=open",
	})

	MarketFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_bot_market_fetch_total",
		Help: "Market data lookups by kind and source (cache, primary, secondary, last_known, error)",
	}, []string{"kind", "source"})

	BotCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invest_bot_commands_total",
		Help: "Telegram commands handled",
	}, []string{"command", "status"})
)

func init() {
	prometheus.MustRegister(
		AutobuyRunsTotal, AutobuyOrdersTotal,
		BrokerRequestDuration, BrokerBreakerState,
		MarketFetchTotal, BotCommandsTotal,
	)
}

// ObserveBrokerRequest records one brokerage call
func ObserveBrokerRequest(method, status string, started time.Time) {
	BrokerRequestDuration.WithLabelValues(method, status).Observe(time.Since(started).Seconds())
}
