package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	collectives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "comm",
			Name:      "collectives_total",
			Help:      "Collective operations completed or attempted, per rank call.",
		},
		[]string{"op"},
	)
	collectiveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "icectl",
			Subsystem: "comm",
			Name:      "collective_duration_seconds",
			Help:      "Time a rank spent inside one collective operation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	groupAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "comm",
			Name:      "group_aborts_total",
			Help:      "Process groups aborted after a failed collective or rank.",
		},
	)
	accessScopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "vec",
			Name:      "access_scopes_total",
			Help:      "Scoped access blocks by outcome.",
		},
		[]string{"outcome"},
	)
	registryAdds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "vars",
			Name:      "adds_total",
			Help:      "Registry insertions by result.",
		},
		[]string{"result"},
	)
	fieldsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "pio",
			Name:      "fields_written_total",
			Help:      "Field records written to output files.",
		},
		[]string{"mode"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "icectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			collectives,
			collectiveDuration,
			groupAborts,
			accessScopes,
			registryAdds,
			fieldsWritten,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordCollective(op string, duration time.Duration) {
	RegisterMetrics()
	collectives.WithLabelValues(op).Inc()
	collectiveDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordGroupAbort() {
	RegisterMetrics()
	groupAborts.Inc()
}

// RecordAccessScope counts one scoped access block. outcome is "ok", "error",
// "panic" or "rejected".
func RecordAccessScope(outcome string) {
	RegisterMetrics()
	accessScopes.WithLabelValues(outcome).Inc()
}

// RecordRegistryAdd counts one registry insertion attempt. result is "ok",
// "locked", "exists" or "invalid".
func RecordRegistryAdd(result string) {
	RegisterMetrics()
	registryAdds.WithLabelValues(result).Inc()
}

// RecordFieldWritten counts one field record. mode is "marked" or "all".
func RecordFieldWritten(mode string) {
	RegisterMetrics()
	fieldsWritten.WithLabelValues(mode).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
