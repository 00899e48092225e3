package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters for queue and visit lifecycle operations.
type QueueMetrics struct {
	transitionsTotal *prometheus.CounterVec
	reordersTotal    prometheus.Counter
	rejectionsTotal  *prometheus.CounterVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Total visit status transitions",
		}, []string{"from", "to"}),
		reordersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "queue",
			Name:      "reorders_total",
			Help:      "Total full queue reorders",
		}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "queue",
			Name:      "guard_rejections_total",
			Help:      "Creations rejected by the capacity/duplicate guard",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.reordersTotal, m.rejectionsTotal)
	return m
}

func (m *QueueMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *QueueMetrics) ObserveReorder() {
	if m == nil {
		return
	}
	m.reordersTotal.Inc()
}

func (m *QueueMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// SyncMetrics exposes counters/histograms for portal reconciliation cycles.
type SyncMetrics struct {
	cyclesTotal   *prometheus.CounterVec
	bookingsTotal *prometheus.CounterVec
	cycleLatency  prometheus.Histogram
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total sync cycles by phase and outcome",
		}, []string{"phase", "status"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "sync",
			Name:      "bookings_total",
			Help:      "Remote bookings imported, updated or deleted locally",
		}, []string{"action"}),
		cycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cabinet",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of the full pull-merge-push cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cyclesTotal, m.bookingsTotal, m.cycleLatency)
	return m
}

func (m *SyncMetrics) ObservePhase(phase, status string) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(phase, status).Inc()
}

func (m *SyncMetrics) ObserveBooking(action string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(action).Inc()
}

func (m *SyncMetrics) ObserveCycleDuration(seconds float64) {
	if m == nil {
		return
	}
	m.cycleLatency.Observe(seconds)
}
