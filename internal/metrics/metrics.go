// Package metrics exposes Prometheus instrumentation for the executor
// and log segment cores, following the RED method (rate, errors,
// duration) for the operations an orchestrator drives them with.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this module publishes.
type Collector struct {
	applyTotal       prometheus.Counter
	applyErrorsTotal prometheus.Counter
	applyDuration    prometheus.Histogram

	tickTotal        prometheus.Counter
	scheduledFired   prometheus.Counter
	postOpTaskPanics prometheus.Counter

	segmentAppendsTotal     prometheus.Counter
	segmentBytesWritten     prometheus.Counter
	segmentCompactionsTotal prometheus.Counter
	segmentCompactDuration  prometheus.Histogram
	segmentFlushesTotal     prometheus.Counter
	segmentSizeBytes        prometheus.Gauge
}

// NewCollector builds and registers a Collector against the default
// Prometheus registerer.
func NewCollector() *Collector {
	c := &Collector{
		applyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_apply_total",
			Help: "Total number of commits applied to the executor.",
		}),
		applyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_apply_errors_total",
			Help: "Total number of apply calls that returned an ApplicationError.",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "executor_apply_duration_seconds",
			Help:    "Wall-clock time spent inside Apply, including post-op task drain.",
			Buckets: prometheus.DefBuckets,
		}),
		tickTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_tick_total",
			Help: "Total number of Tick calls.",
		}),
		scheduledFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_scheduled_tasks_fired_total",
			Help: "Total number of scheduled timer callbacks fired.",
		}),
		postOpTaskPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_post_op_task_panics_total",
			Help: "Total number of post-op tasks that panicked during drain.",
		}),
		segmentAppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsegment_appends_total",
			Help: "Total number of records appended across all segments.",
		}),
		segmentBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsegment_bytes_written_total",
			Help: "Total bytes (header + payload) written to segment data files.",
		}),
		segmentCompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsegment_compactions_total",
			Help: "Total number of completed prefix compactions.",
		}),
		segmentCompactDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsegment_compaction_duration_seconds",
			Help:    "Wall-clock time spent running a compaction, start to history cleanup.",
			Buckets: prometheus.DefBuckets,
		}),
		segmentFlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsegment_flushes_total",
			Help: "Total number of Flush calls that performed an fsync.",
		}),
		segmentSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logsegment_size_bytes",
			Help: "Current data file size of the most recently observed segment.",
		}),
	}

	prometheus.MustRegister(c.applyTotal)
	prometheus.MustRegister(c.applyErrorsTotal)
	prometheus.MustRegister(c.applyDuration)
	prometheus.MustRegister(c.tickTotal)
	prometheus.MustRegister(c.scheduledFired)
	prometheus.MustRegister(c.postOpTaskPanics)
	prometheus.MustRegister(c.segmentAppendsTotal)
	prometheus.MustRegister(c.segmentBytesWritten)
	prometheus.MustRegister(c.segmentCompactionsTotal)
	prometheus.MustRegister(c.segmentCompactDuration)
	prometheus.MustRegister(c.segmentFlushesTotal)
	prometheus.MustRegister(c.segmentSizeBytes)

	return c
}

// RecordApplyOutcome records one Apply call's outcome. The executor
// itself never reads a clock, so duration is observed separately by
// whatever orchestrator wraps the call; see ObserveApplyDuration.
func (c *Collector) RecordApplyOutcome(failed bool) {
	c.applyTotal.Inc()
	if failed {
		c.applyErrorsTotal.Inc()
	}
}

// ObserveApplyDuration records the wall-clock time an orchestrator
// measured around one Apply call.
func (c *Collector) ObserveApplyDuration(durationSeconds float64) {
	c.applyDuration.Observe(durationSeconds)
}

// RecordTickFired records one Tick call and the number of scheduled
// callbacks it fired.
func (c *Collector) RecordTickFired(fired int) {
	c.tickTotal.Inc()
	c.scheduledFired.Add(float64(fired))
}

// RecordPostOpTaskPanic records one post-op task that panicked during
// drain.
func (c *Collector) RecordPostOpTaskPanic() {
	c.postOpTaskPanics.Inc()
}

// RecordAppend records one successful LogSegment.Append, including the
// total bytes (header + payload) written.
func (c *Collector) RecordAppend(bytesWritten int) {
	c.segmentAppendsTotal.Inc()
	c.segmentBytesWritten.Add(float64(bytesWritten))
}

// RecordCompaction records one completed compaction and its duration.
func (c *Collector) RecordCompaction(durationSeconds float64) {
	c.segmentCompactionsTotal.Inc()
	c.segmentCompactDuration.Observe(durationSeconds)
}

// RecordFlush records one Flush call that performed an fsync.
func (c *Collector) RecordFlush() {
	c.segmentFlushesTotal.Inc()
}

// SetSegmentSize updates the most recently observed segment size.
func (c *Collector) SetSegmentSize(bytes int64) {
	c.segmentSizeBytes.Set(float64(bytes))
}

// StartServer starts a blocking HTTP server exposing /metrics.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
