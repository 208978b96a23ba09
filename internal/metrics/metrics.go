package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exaroton"

// Request outcomes
const (
	OutcomeAck      = "ack"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeLost     = "lost"
	OutcomeError    = "error"
)

// Metrics holds the collectors shared by all sessions.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	eventsDropped     *prometheus.CounterVec
	listenerErrors    *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	pendingRequests   *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
	recorderRows      *prometheus.CounterVec
	recorderFlushes   *prometheus.CounterVec
	pollerFetches     *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Total frames received per server",
		}, []string{"server"}),

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Total frames written per server",
		}, []string{"server"}),

		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "protocol_errors_total",
			Help:      "Frames that could not be decoded",
		}, []string{"server"}),

		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts per server",
		}, []string{"server"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connection_state",
			Help:      "Session state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=closed 5=failed)",
		}, []string{"server"}),

		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mux",
			Name:      "events_dropped_total",
			Help:      "Events discarded because a listener fell behind",
		}, []string{"server", "channel"}),

		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mux",
			Name:      "listener_errors_total",
			Help:      "Listener invocations that returned an error or panicked",
		}, []string{"server", "channel"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Bridged requests by outcome",
		}, []string{"server", "outcome"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "Request round-trip duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"server"}),

		pendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response",
		}, []string{"server"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "queue_depth",
			Help:      "Outbound frames queued or in flight",
		}, []string{"server"}),

		recorderRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "rows_written_total",
			Help:      "Rows written per table",
		}, []string{"table"}),

		recorderFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "flushes_total",
			Help:      "Batch flushes by result",
		}, []string{"result"}),

		pollerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetches_total",
			Help:      "REST status fetches by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesReceived,
		m.framesSent,
		m.protocolErrors,
		m.reconnectAttempts,
		m.connectionState,
		m.eventsDropped,
		m.listenerErrors,
		m.requests,
		m.requestDuration,
		m.pendingRequests,
		m.queueDepth,
		m.recorderRows,
		m.recorderFlushes,
		m.pollerFetches,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(server string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(server).Inc()
}

func (m *Metrics) FrameSent(server string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(server).Inc()
}

func (m *Metrics) ProtocolError(server string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(server).Inc()
}

func (m *Metrics) ReconnectAttempt(server string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(server).Inc()
}

// SetState records the numeric session state.
func (m *Metrics) SetState(server string, state int) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(server).Set(float64(state))
}

func (m *Metrics) EventsDropped(server, channel string, n int) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(server, channel).Add(float64(n))
}

func (m *Metrics) ListenerError(server, channel string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(server, channel).Inc()
}

// RequestDone records a finished request. Duration is only observed for
// requests that got a response.
func (m *Metrics) RequestDone(server, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(server, outcome).Inc()
	if outcome == OutcomeAck || outcome == OutcomeRejected {
		m.requestDuration.WithLabelValues(server).Observe(d.Seconds())
	}
}

func (m *Metrics) SetPending(server string, n int) {
	if m == nil {
		return
	}
	m.pendingRequests.WithLabelValues(server).Set(float64(n))
}

func (m *Metrics) SetQueueDepth(server string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(server).Set(float64(n))
}

func (m *Metrics) RowsWritten(table string, n int) {
	if m == nil {
		return
	}
	m.recorderRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) Flush(err error) {
	if m == nil {
		return
	}
	m.recorderFlushes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) PollerFetch(err error) {
	if m == nil {
		return
	}
	m.pollerFetches.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
