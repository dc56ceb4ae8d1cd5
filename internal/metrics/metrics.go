// Package metrics collects and exposes broker observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-queue counters + time series)
//     for the lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both lets the JSON endpoint work without a Prometheus sidecar
// while still supporting enterprise monitoring stacks.
//
// # Concurrency — hot path
//
// RecordReceive and RecordPublish are called on every API request and must
// be as fast as possible. They use atomic increments for global counters
// and dispatch a lightweight event onto a buffered channel (tsChan) for the
// time-series worker to process asynchronously. This avoids holding any
// lock on the hot path.
//
// The per-queue QueueMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-queue entries is
// read-heavy and write-once-per-new-queue, the ideal use case for sync.Map.
//
// # Invariants
//
//   - MessagesReceived >= MessagesRedriven (a redrive only happens after a
//     receive that pushes a message over its max_receives).
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Published    int64
	Received     int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes broker runtime metrics.
type Metrics struct {
	MessagesPublished    atomic.Int64
	MessagesDeduplicated atomic.Int64
	MessagesReceived     atomic.Int64
	MessagesEmptyReceive atomic.Int64
	MessagesDeleted      atomic.Int64
	MessagesRedriven     atomic.Int64
	MessagesExpired      atomic.Int64

	// Long-poll wait latency (in milliseconds), recorded on every Receive.
	TotalWaitMs atomic.Int64
	MinWaitMs   atomic.Int64
	MaxWaitMs   atomic.Int64

	QueuesCreated atomic.Int64
	QueuesDeleted atomic.Int64

	// Per-queue metrics
	queueMetrics sync.Map // queue name -> *QueueMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	kind       string // "publish" or "receive"
	waitMs     int64
	isEmpty    bool
}

// QueueMetrics tracks metrics for a single queue.
type QueueMetrics struct {
	Published    atomic.Int64
	Deduplicated atomic.Int64
	Received     atomic.Int64
	Deleted      atomic.Int64
	Redriven     atomic.Int64
	Expired      atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinWaitMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordPublish records a publish call against queue.
func (m *Metrics) RecordPublish(queue string, deduplicated bool) {
	m.MessagesPublished.Add(1)
	if deduplicated {
		m.MessagesDeduplicated.Add(1)
	}

	qm := m.getQueueMetrics(queue)
	qm.Published.Add(1)
	if deduplicated {
		qm.Deduplicated.Add(1)
	}

	m.recordTimeSeries(timeSeriesEvent{kind: "publish"})
	RecordPrometheusPublish(queue, deduplicated)
}

// RecordReceive records a Receive call against queue, including its
// long-poll wait duration and whether it returned a message.
func (m *Metrics) RecordReceive(queue string, waitMs int64, empty bool) {
	m.MessagesReceived.Add(1)
	if empty {
		m.MessagesEmptyReceive.Add(1)
	}
	m.TotalWaitMs.Add(waitMs)
	updateMin(&m.MinWaitMs, waitMs)
	updateMax(&m.MaxWaitMs, waitMs)

	qm := m.getQueueMetrics(queue)
	qm.Received.Add(1)

	m.recordTimeSeries(timeSeriesEvent{kind: "receive", waitMs: waitMs, isEmpty: empty})
	RecordPrometheusReceive(queue, waitMs, empty)
}

// RecordDelete records a message deletion on queue.
func (m *Metrics) RecordDelete(queue string) {
	m.MessagesDeleted.Add(1)
	m.getQueueMetrics(queue).Deleted.Add(1)
	RecordPrometheusDelete(queue)
}

// RecordRedrive records a message being moved to its dead-letter queue.
func (m *Metrics) RecordRedrive(sourceQueue string) {
	m.MessagesRedriven.Add(1)
	m.getQueueMetrics(sourceQueue).Redriven.Add(1)
	RecordPrometheusRedrive(sourceQueue)
}

// RecordExpired records count messages removed from queue by the
// retention sweep.
func (m *Metrics) RecordExpired(queue string, count int64) {
	if count <= 0 {
		return
	}
	m.MessagesExpired.Add(count)
	m.getQueueMetrics(queue).Expired.Add(count)
	RecordPrometheusExpired(queue, count)
}

// RecordQueueCreated records a queue creation.
func (m *Metrics) RecordQueueCreated() {
	m.QueuesCreated.Add(1)
	RecordPrometheusQueueCreated()
}

// RecordQueueDeleted records a queue deletion.
func (m *Metrics) RecordQueueDeleted() {
	m.QueuesDeleted.Add(1)
	RecordPrometheusQueueDeleted()
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot request path.
func (m *Metrics) recordTimeSeries(evt timeSeriesEvent) {
	select {
	case m.tsChan <- evt:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(evt timeSeriesEvent) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	// Check if we need to rotate buckets
	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) == 0 {
		return
	}
	bucket := m.timeSeries[len(m.timeSeries)-1]
	switch evt.kind {
	case "publish":
		bucket.Published++
	case "receive":
		bucket.Received++
		bucket.TotalLatency += evt.waitMs
		bucket.Count++
		if evt.isEmpty {
			bucket.Errors++
		}
	}
}

func (m *Metrics) getQueueMetrics(queue string) *QueueMetrics {
	if v, ok := m.queueMetrics.Load(queue); ok {
		return v.(*QueueMetrics)
	}
	qm := &QueueMetrics{}
	actual, _ := m.queueMetrics.LoadOrStore(queue, qm)
	return actual.(*QueueMetrics)
}

// GetQueueMetrics returns the metrics for a specific queue (or nil if none recorded yet).
func (m *Metrics) GetQueueMetrics(queue string) *QueueMetrics {
	if v, ok := m.queueMetrics.Load(queue); ok {
		return v.(*QueueMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	minWait := m.MinWaitMs.Load()
	if minWait == int64(^uint64(0)>>1) {
		minWait = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"messages": map[string]interface{}{
			"published":     m.MessagesPublished.Load(),
			"deduplicated":  m.MessagesDeduplicated.Load(),
			"received":      m.MessagesReceived.Load(),
			"empty_receive": m.MessagesEmptyReceive.Load(),
			"deleted":       m.MessagesDeleted.Load(),
			"redriven":      m.MessagesRedriven.Load(),
			"expired":       m.MessagesExpired.Load(),
		},
		"wait_ms": map[string]interface{}{
			"avg": avgOf(m.TotalWaitMs.Load(), m.MessagesReceived.Load()),
			"min": minWait,
			"max": m.MaxWaitMs.Load(),
		},
		"queues": map[string]interface{}{
			"created": m.QueuesCreated.Load(),
			"deleted": m.QueuesDeleted.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// QueueStats returns per-queue metrics.
func (m *Metrics) QueueStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.queueMetrics.Range(func(key, value interface{}) bool {
		name := key.(string)
		qm := value.(*QueueMetrics)
		result[name] = map[string]interface{}{
			"published":    qm.Published.Load(),
			"deduplicated": qm.Deduplicated.Load(),
			"received":     qm.Received.Load(),
			"deleted":      qm.Deleted.Load(),
			"redriven":     qm.Redriven.Load(),
			"expired":      qm.Expired.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["queues"] = m.QueueStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"published":    bucket.Published,
			"received":     bucket.Received,
			"errors":       bucket.Errors,
			"avg_wait_ms":  avgOf(bucket.TotalLatency, bucket.Count),
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func avgOf(total, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
