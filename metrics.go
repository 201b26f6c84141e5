package tl2mem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// regionMetrics instruments the transaction engine. It plays the same role
// for this engine that walMetrics plays for the teacher's WAL: additive
// observability, not part of the core algorithm's correctness surface.
type regionMetrics struct {
	commitsTotal         prometheus.Counter
	readOnlyCommitsTotal prometheus.Counter
	abortsTotal          *prometheus.CounterVec
	clock                prometheus.Gauge
	segmentsAllocated    prometheus.Counter
	segmentsFreed        prometheus.Counter
	bytesRead            prometheus.Counter
	bytesWritten         prometheus.Counter
	activeTransactions   prometheus.Gauge
	commitLatency        prometheus.Histogram
}

func newRegionMetrics(reg prometheus.Registerer, namespace string) *regionMetrics {
	f := promauto.With(reg)
	return &regionMetrics{
		commitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "commits_total counts successfully committed read-write transactions.",
		}),
		readOnlyCommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_only_commits_total",
			Help:      "read_only_commits_total counts read-only transactions, and read-write transactions with an empty write set, that ended without conflict.",
		}),
		abortsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "aborts_total counts aborted transactions by reason.",
		}, []string{"reason"}),
		clock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock",
			Help:      "clock is the current value of the region's global version clock.",
		}),
		segmentsAllocated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_allocated_total",
			Help:      "segments_allocated_total counts segments created via Alloc (including the initial segment).",
		}),
		segmentsFreed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_freed_total",
			Help:      "segments_freed_total counts segments unlinked and released via a committed Free or the abort of the transaction that allocated them.",
		}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "bytes_read_total counts bytes copied out by Read.",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "bytes_written_total counts bytes committed to shared segments.",
		}),
		activeTransactions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transactions",
			Help:      "active_transactions is the number of transactions currently begun but not yet ended.",
		}),
		commitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_seconds",
			Help:      "commit_latency_seconds observes the wall time of the TL2 commit critical section.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *regionMetrics) recordAbort(reason string) {
	m.abortsTotal.WithLabelValues(reason).Inc()
}
