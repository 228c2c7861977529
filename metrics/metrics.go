// Package metrics exposes Prometheus collectors for calls, connections and the
// species info cache. Collectors live in the default registry and are served on
// /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treemap",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Calls dispatched, by call name and outcome.",
		},
		[]string{"call", "outcome"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treemap",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time from request decode to response, by call name and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call", "outcome"},
	)
	openConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "treemap",
			Subsystem: "rpc",
			Name:      "open_connections",
			Help:      "Connections currently served, by transport.",
		},
		[]string{"transport"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treemap",
			Subsystem: "infocache",
			Name:      "lookups_total",
			Help:      "Species info lookups, by result (hit, miss, error).",
		},
		[]string{"result"},
	)
	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treemap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP requests served, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register adds the collectors to the default registry. It is idempotent.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(callsTotal, callDuration, openConnections, cacheLookups, httpRequests)
	})
}

func RecordCall(call, outcome string, d time.Duration) {
	Register()
	callsTotal.WithLabelValues(call, outcome).Inc()
	callDuration.WithLabelValues(call, outcome).Observe(d.Seconds())
}

func ConnOpened(transport string) {
	Register()
	openConnections.WithLabelValues(transport).Inc()
}

func ConnClosed(transport string) {
	Register()
	openConnections.WithLabelValues(transport).Dec()
}

func RecordCacheLookup(result string) {
	Register()
	cacheLookups.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	Register()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}
