// Package metrics exposes Prometheus counters and gauges for the
// gateway's transaction and forwarding activity, grounded on the
// teacher's promauto-based pkg/ipc/metrics.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modelgateway"

var (
	TransactionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transactions_open",
		Help:      "Number of transactions currently open against Upstream.",
	})
	TransactionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_opened_total",
		Help:      "Total number of transactions opened.",
	})
	TransactionsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_committed_total",
		Help:      "Total number of transactions committed successfully.",
	})
	TransactionsRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_rolledback_total",
		Help:      "Total number of transactions rolled back.",
	})
	CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_dispatched_total",
		Help:      "Total number of commands dispatched through a CommandProviderRegistry.",
	})
	TriggersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_fired_total",
		Help:      "Total number of non-empty trigger resolutions applied during commit.",
	})
	// RequestsForwarded counts requests forwarded to Upstream: the
	// true unclaimed-path pass-through, and any plug-in-claimed
	// STANDARD_ROUTE left at the default policy (spec.md §4.5).
	RequestsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_forwarded_total",
		Help:      "Total number of requests forwarded straight through to Upstream.",
	}, []string{"method"})
	// RequestsBackstopped counts requests served locally by a plug-in
	// router rather than forwarded — the backstop set of spec.md §4.5.
	RequestsBackstopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_backstopped_total",
		Help:      "Total number of requests served locally by a plug-in instead of Upstream.",
	}, []string{"router"})
)

// Handler serves the process-wide Prometheus registry at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
