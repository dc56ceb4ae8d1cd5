package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for broker metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	messagesPublishedTotal *prometheus.CounterVec
	messagesReceivedTotal  *prometheus.CounterVec
	messagesDeletedTotal   *prometheus.CounterVec
	messagesRedrivenTotal  *prometheus.CounterVec
	messagesExpiredTotal   *prometheus.CounterVec
	queuesCreatedTotal     prometheus.Counter
	queuesDeletedTotal     prometheus.Counter

	// Histograms
	receiveWaitDuration *prometheus.HistogramVec

	// Gauges
	uptime     prometheus.GaugeFunc
	queueDepth *prometheus.GaugeVec
	poolConns  *prometheus.GaugeVec
}

// Default histogram buckets for receive wait duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		messagesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Total number of messages published, by queue and dedup outcome",
			},
			[]string{"queue", "deduplicated"},
		),

		messagesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of Receive calls, by queue and whether a message was returned",
			},
			[]string{"queue", "empty"},
		),

		messagesDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_deleted_total",
				Help:      "Total number of messages deleted, by queue",
			},
			[]string{"queue"},
		),

		messagesRedrivenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_redriven_total",
				Help:      "Total number of messages moved to a dead-letter queue, by source queue",
			},
			[]string{"queue"},
		),

		messagesExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_expired_total",
				Help:      "Total number of messages removed by the retention sweep, by queue",
			},
			[]string{"queue"},
		),

		queuesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queues_created_total",
				Help:      "Total number of queues created",
			},
		),

		queuesDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queues_deleted_total",
				Help:      "Total number of queues deleted",
			},
		),

		receiveWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "receive_wait_milliseconds",
				Help:      "Time a Receive call spent waiting before returning, in milliseconds",
				Buckets:   buckets,
			},
			[]string{"queue"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current message count by queue and visibility state",
			},
			[]string{"queue", "state"}, // state: visible, hidden
		),

		poolConns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "postgres_pool_connections",
				Help:      "Current Postgres connection pool size by state",
			},
			[]string{"state"}, // state: idle, in_use
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the server started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.messagesPublishedTotal,
		pm.messagesReceivedTotal,
		pm.messagesDeletedTotal,
		pm.messagesRedrivenTotal,
		pm.messagesExpiredTotal,
		pm.queuesCreatedTotal,
		pm.queuesDeletedTotal,
		pm.receiveWaitDuration,
		pm.uptime,
		pm.queueDepth,
		pm.poolConns,
	)

	promMetrics = pm
}

// RecordPrometheusPublish records a publish in Prometheus collectors.
func RecordPrometheusPublish(queue string, deduplicated bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesPublishedTotal.WithLabelValues(queue, boolLabel(deduplicated)).Inc()
}

// RecordPrometheusReceive records a Receive call in Prometheus collectors.
func RecordPrometheusReceive(queue string, waitMs int64, empty bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesReceivedTotal.WithLabelValues(queue, boolLabel(empty)).Inc()
	promMetrics.receiveWaitDuration.WithLabelValues(queue).Observe(float64(waitMs))
}

// RecordPrometheusDelete records a message deletion in Prometheus.
func RecordPrometheusDelete(queue string) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDeletedTotal.WithLabelValues(queue).Inc()
}

// RecordPrometheusRedrive records a redrive in Prometheus.
func RecordPrometheusRedrive(queue string) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesRedrivenTotal.WithLabelValues(queue).Inc()
}

// RecordPrometheusExpired records retention-sweep deletions in Prometheus.
func RecordPrometheusExpired(queue string, count int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesExpiredTotal.WithLabelValues(queue).Add(float64(count))
}

// RecordPrometheusQueueCreated records a queue creation in Prometheus.
func RecordPrometheusQueueCreated() {
	if promMetrics == nil {
		return
	}
	promMetrics.queuesCreatedTotal.Inc()
}

// RecordPrometheusQueueDeleted records a queue deletion in Prometheus.
func RecordPrometheusQueueDeleted() {
	if promMetrics == nil {
		return
	}
	promMetrics.queuesDeletedTotal.Inc()
}

// SetQueueDepth sets the visible/hidden message count gauges for a queue.
func SetQueueDepth(queue string, visible, hidden int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.WithLabelValues(queue, "visible").Set(float64(visible))
	promMetrics.queueDepth.WithLabelValues(queue, "hidden").Set(float64(hidden))
}

// SetPoolConnections sets the Postgres connection pool gauges.
func SetPoolConnections(idle, inUse int32) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolConns.WithLabelValues("idle").Set(float64(idle))
	promMetrics.poolConns.WithLabelValues("in_use").Set(float64(inUse))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
