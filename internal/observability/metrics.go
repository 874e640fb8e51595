package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments shared by the hub components.
// A nil *Metrics is valid and records nothing, so components and tests can
// run without a registry.
type Metrics struct {
	connectionsActive   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsEvicted  *prometheus.CounterVec
	framesReceived      prometheus.Counter
	framesDropped       *prometheus.CounterVec
	handlerErrors       *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	pluginsRegistered   prometheus.Gauge
}

// NewMetrics registers all instruments on reg under the given namespace.
//
// Precondition: reg must be non-nil; namespace must be a valid metric prefix.
// Postcondition: Returns a Metrics whose instruments are registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open client connections",
		}),
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		connectionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of closed client connections by reason",
		}, []string{"reason"}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped as malformed",
		}, []string{"reason"}),
		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of handler, responder, and plugin hook failures",
		}, []string{"kind"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent running all handlers for one inbound frame",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		pluginsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_registered",
			Help:      "Number of currently registered plugins",
		}),
	}
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a removed connection.
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.connectionsEvicted.WithLabelValues(reason).Inc()
}

// FrameReceived records an inbound frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// FrameDropped records an inbound frame discarded for reason.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// HandlerFailed records a failing handler of the given kind
// ("event", "reply", "plugin_init", "plugin_cleanup", "lua").
func (m *Metrics) HandlerFailed(kind string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(kind).Inc()
}

// ObserveDispatch records how long a dispatch of the given kind took.
func (m *Metrics) ObserveDispatch(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetPlugins records the current plugin count.
func (m *Metrics) SetPlugins(n int) {
	if m == nil {
		return
	}
	m.pluginsRegistered.Set(float64(n))
}
