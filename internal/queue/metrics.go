package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects queue instrumentation
type Metrics struct {
	queueDepth   prometheus.Gauge
	syncsTotal   *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

// NewMetrics creates and registers the queue metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sourcereg_queue_depth",
			Help: "Number of queued-but-not-started sync requests",
		}),
		syncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcereg_syncs_total",
			Help: "Completed sync jobs by outcome",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sourcereg_sync_duration_seconds",
			Help:    "Sync job execution time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.queueDepth, m.syncsTotal, m.syncDuration)
	return m
}

// SetQueueDepth records the current number of queued entries
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// RecordSync records one completed sync job
func (m *Metrics) RecordSync(duration time.Duration, success bool) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.syncsTotal.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(duration.Seconds())
}
