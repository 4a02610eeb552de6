package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the operational counters/gauges a Dispatcher and
// PublicationManager report to, grounded on cuemby-warren's package-level
// prometheus.NewGauge/NewCounterVec metrics (pkg/metrics/metrics.go).
// Unlike the teacher, these are instance-scoped rather than package
// globals: a process may run more than one Dispatcher (e.g. in tests), and
// package-level collectors would double-register against the default
// registry. Callers build a Metrics with NewMetrics(reg) and pass it via
// WithMetrics; nil Metrics (the default) means no registration happens and
// every method is a no-op.
type Metrics struct {
	EnvelopesReceived  *prometheus.CounterVec
	EnvelopesDropped   *prometheus.CounterVec
	PublicationsSent   prometheus.Counter
	PublicationsMissed prometheus.Counter
	ActiveEntries      prometheus.Gauge
	// ActiveSubscribers is registered but not updated by this package: the
	// SubscriptionManager does not report to Metrics, so it stays at 0.
	ActiveSubscribers prometheus.Gauge
}

// NewMetrics builds a Metrics instance and registers its collectors with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EnvelopesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_envelopes_received_total",
			Help: "Total number of envelopes received by kind.",
		}, []string{"kind"}),
		EnvelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_envelopes_dropped_total",
			Help: "Total number of envelopes dropped, by reason.",
		}, []string{"reason"}),
		PublicationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_publications_sent_total",
			Help: "Total number of subscription publications sent.",
		}),
		PublicationsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_publications_missed_total",
			Help: "Total number of publication-missed alerts raised.",
		}),
		ActiveEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_publication_entries_active",
			Help: "Current number of active provider-side subscription entries.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_subscriptions_active",
			Help: "Current number of active consumer-side subscriptions.",
		}),
	}

	reg.MustRegister(
		m.EnvelopesReceived,
		m.EnvelopesDropped,
		m.PublicationsSent,
		m.PublicationsMissed,
		m.ActiveEntries,
		m.ActiveSubscribers,
	)
	return m
}

func (m *Metrics) received(kind Kind) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) publicationSent() {
	if m == nil {
		return
	}
	m.PublicationsSent.Inc()
}

func (m *Metrics) publicationMissed() {
	if m == nil {
		return
	}
	m.PublicationsMissed.Inc()
}

func (m *Metrics) setActiveEntries(n int) {
	if m == nil {
		return
	}
	m.ActiveEntries.Set(float64(n))
}

func (m *Metrics) setActiveSubscribers(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Set(float64(n))
}
