// Package metrics exposes Prometheus collectors for the execution engine.
//
//   - gatebot_gate_requests_total{method,code}  exchange REST calls by HTTP status
//   - gatebot_gate_retries_total                transport failures that were retried
//   - gatebot_signals_total{outcome}             dispatch decisions (accepted|duplicate|stale|busy|...)
//   - gatebot_orders_total{kind,result}          orders placed (main|tp|sl|close, ok|failed)
//   - gatebot_positions_open                     slots currently in position
//   - gatebot_reconcile_seconds                  reconcile cycle latency
//   - gatebot_notify_total{result}               status publishes (sent|edited|skipped|failed)
//
// Collectors register in init() and are served at /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gateRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatebot_gate_requests_total",
			Help: "Gate REST requests by method and HTTP status",
		},
		[]string{"method", "code"},
	)

	gateRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatebot_gate_retries_total",
			Help: "Gate REST transport failures that were retried",
		},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatebot_signals_total",
			Help: "Signals seen by the dispatch gate, by outcome",
		},
		[]string{"outcome"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatebot_orders_total",
			Help: "Orders placed by kind and result",
		},
		[]string{"kind", "result"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatebot_positions_open",
			Help: "Position slots currently in position",
		},
	)

	reconcileSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatebot_reconcile_seconds",
			Help:    "Duration of one reconcile cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatebot_notify_total",
			Help: "Status publishes by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(gateRequests, gateRetries)
	prometheus.MustRegister(signals, orders, openPositions)
	prometheus.MustRegister(reconcileSeconds, notifications)
}

func ObserveGateRequest(method string, code int) {
	gateRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func IncGateRetry()                 { gateRetries.Inc() }
func IncSignal(outcome string)      { signals.WithLabelValues(outcome).Inc() }
func SetOpenPositions(n int)        { openPositions.Set(float64(n)) }
func ObserveReconcile(sec float64)  { reconcileSeconds.Observe(sec) }
func IncNotification(result string) { notifications.WithLabelValues(result).Inc() }

// IncOrder records one order attempt. kind is main, tp, sl or close.
func IncOrder(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	orders.WithLabelValues(kind, result).Inc()
}
