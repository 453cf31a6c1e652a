package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records throughput and health of the live operations pipeline.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	changes       *prometheus.CounterVec
	processing    *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	evicted       prometheus.Counter
	dropped       *prometheus.CounterVec
	subscribers   prometheus.Gauge
	transitions   *prometheus.CounterVec
	connected     *prometheus.GaugeVec
	published     *prometheus.CounterVec
	pending       prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	m := &PipelineMetrics{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_change_events_total",
			Help: "Change records received from the change feed by outcome.",
		}, []string{"stream", "result"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liveops_change_event_processing_seconds",
			Help:    "Time spent turning a change record into a delivered notification.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_notifications_total",
			Help: "Notifications offered to the store by type and outcome.",
		}, []string{"type", "result"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveops_notifications_evicted_total",
			Help: "Notifications evicted from the store by the capacity cap.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_fanout_dropped_total",
			Help: "Updates dropped for a slow subscriber.",
		}, []string{"update"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liveops_fanout_subscribers",
			Help: "Currently registered subscribers.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_order_transitions_total",
			Help: "Order lifecycle transition attempts by operation and result.",
		}, []string{"operation", "result"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveops_stream_connected",
			Help: "1 when the change stream subscription is healthy, 0 when degraded.",
		}, []string{"stream"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveops_outbox_published_total",
			Help: "Change events relayed by the outbox publisher by outcome.",
		}, []string{"stream", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liveops_outbox_pending",
			Help: "Change events still waiting to be relayed, sampled by the outbox publisher.",
		}),
	}
	reg.MustRegister(
		m.changes,
		m.processing,
		m.notifications,
		m.evicted,
		m.dropped,
		m.subscribers,
		m.transitions,
		m.connected,
		m.published,
		m.pending,
	)
	return m
}

func (m *PipelineMetrics) IncChange(stream, result string) {
	if m == nil || m.changes == nil {
		return
	}
	m.changes.WithLabelValues(normalizeLabel(stream), normalizeLabel(result)).Inc()
}

func (m *PipelineMetrics) ObserveProcessing(stream string, duration time.Duration) {
	if m == nil || m.processing == nil {
		return
	}
	m.processing.WithLabelValues(normalizeLabel(stream)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncNotification(notificationType, result string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(result)).Inc()
}

func (m *PipelineMetrics) AddEvicted(n int) {
	if m == nil || m.evicted == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *PipelineMetrics) IncDropped(update string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(update)).Inc()
}

func (m *PipelineMetrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *PipelineMetrics) IncTransition(operation, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

// SetStreamConnected flips the health gauge for a change stream.
func (m *PipelineMetrics) SetStreamConnected(stream string, connected bool) {
	if m == nil || m.connected == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	m.connected.WithLabelValues(normalizeLabel(stream)).Set(value)
}

func (m *PipelineMetrics) IncPublished(stream, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(stream), normalizeLabel(result)).Inc()
}

func (m *PipelineMetrics) SetOutboxPending(n int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
