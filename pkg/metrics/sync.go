package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission paths.
const (
	PathOnline      = "online"
	PathOffline     = "offline"
	PathQueueFailed = "queue_failed"
)

// Replay results.
const (
	ReplayConfirmed = "confirmed"
	ReplayDuplicate = "duplicate"
	ReplayRetry     = "retry"
	ReplayDLQ       = "dlq"
)

// SubmissionMetrics tracks how order submissions were resolved.
type SubmissionMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewSubmissionMetrics(reg prometheus.Registerer) *SubmissionMetrics {
	if reg == nil {
		return &SubmissionMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submission_total",
		Help:      "Order submissions by resolution path.",
	}, []string{"path"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "submission_duration_seconds",
		Help:      "Time from submit to resolution.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"path"})
	reg.MustRegister(total, duration)
	return &SubmissionMetrics{total: total, duration: duration}
}

// Observe counts one submission on path and records how long it took.
func (m *SubmissionMetrics) Observe(path string, elapsed time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	label := normalizeLabel(path)
	m.total.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// SyncMetrics tracks queue replay outcomes.
type SyncMetrics struct {
	replays *prometheus.CounterVec
	pending prometheus.Gauge
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_replay_total",
		Help:      "Queued operation replays by result.",
	}, []string{"result"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_batch_size",
		Help:      "Operations fetched in the most recent drain batch.",
	})
	reg.MustRegister(replays, pending)
	return &SyncMetrics{replays: replays, pending: pending}
}

func (m *SyncMetrics) IncReplay(result string) {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *SyncMetrics) SetBatchSize(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SnapshotMetrics counts snapshot entries dropped by the store.
type SnapshotMetrics struct {
	evictions *prometheus.CounterVec
}

func NewSnapshotMetrics(reg prometheus.Registerer) *SnapshotMetrics {
	if reg == nil {
		return &SnapshotMetrics{}
	}
	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_evictions_total",
		Help:      "Snapshot entries deleted, by reason.",
	}, []string{"reason"})
	reg.MustRegister(evictions)
	return &SnapshotMetrics{evictions: evictions}
}

func (m *SnapshotMetrics) IncEviction(reason string) {
	if m == nil || m.evictions == nil {
		return
	}
	m.evictions.WithLabelValues(normalizeLabel(reason)).Inc()
}
