// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_console"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge

	// Envelope metrics
	EnvelopesReceived *prometheus.CounterVec
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec

	// Call metrics
	CallsStarted prometheus.Counter
	CallsEnded   prometheus.Counter
	CallDuration prometheus.Histogram
	NoOpCommands *prometheus.CounterVec

	// Timer metrics
	TimersScheduled      prometheus.Counter
	TimersCancelled      prometheus.Counter
	StaleFiresSuppressed prometheus.Counter

	// Interaction metrics
	InteractionsLogged      prometheus.Counter
	InteractionAppendErrors prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   prometheus.Counter
	KafkaPublishErrors  prometheus.Counter
	KafkaPublishLatency prometheus.Histogram
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of WebSocket connections accepted",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently active WebSocket connections",
		}),

		EnvelopesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Total number of envelopes received from clients",
		}, []string{"type"}),
		EnvelopesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Total number of envelopes sent to clients",
		}, []string{"type"}),
		EnvelopesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Total number of inbound envelopes dropped",
		}, []string{"reason"}),

		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of simulated calls started",
		}),
		CallsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of simulated calls ended",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of simulated calls in seconds",
			Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120},
		}),
		NoOpCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noop_commands_total",
			Help:      "Total number of call commands ignored as no-ops",
		}, []string{"command"}),

		TimersScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_scheduled_total",
			Help:      "Total number of session timers scheduled",
		}),
		TimersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_cancelled_total",
			Help:      "Total number of session timers cancelled before firing",
		}),
		StaleFiresSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_fires_suppressed_total",
			Help:      "Total number of timer fires suppressed after call end",
		}),

		InteractionsLogged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_logged_total",
			Help:      "Total number of UI interaction events appended to the log",
		}),
		InteractionAppendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interaction_append_errors_total",
			Help:      "Total number of failed interaction log appends",
		}),

		KafkaPublishTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of interaction events published to Kafka",
		}),
		KafkaPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}),
		KafkaPublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordConnectionOpened records a new WebSocket connection.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionClosed records a WebSocket connection ending.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// RecordEnvelopeReceived records an inbound envelope by type.
func (m *Metrics) RecordEnvelopeReceived(msgType string) {
	m.EnvelopesReceived.WithLabelValues(msgType).Inc()
}

// RecordEnvelopeSent records an outbound envelope by type.
func (m *Metrics) RecordEnvelopeSent(msgType string) {
	m.EnvelopesSent.WithLabelValues(msgType).Inc()
}

// RecordEnvelopeDropped records an inbound envelope dropped.
func (m *Metrics) RecordEnvelopeDropped(reason string) {
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

// RecordCallStarted records a call entering the connecting state.
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
}

// RecordCallEnded records a call ending.
func (m *Metrics) RecordCallEnded(durationSeconds float64) {
	m.CallsEnded.Inc()
	m.CallDuration.Observe(durationSeconds)
}

// RecordNoOpCommand records a call command ignored as a no-op.
func (m *Metrics) RecordNoOpCommand(command string) {
	m.NoOpCommands.WithLabelValues(command).Inc()
}

// RecordTimerScheduled records a session timer being scheduled.
func (m *Metrics) RecordTimerScheduled() {
	m.TimersScheduled.Inc()
}

// RecordTimersCancelled records timers cancelled before firing.
func (m *Metrics) RecordTimersCancelled(n int) {
	m.TimersCancelled.Add(float64(n))
}

// RecordStaleFireSuppressed records a timer fire suppressed at fire time.
func (m *Metrics) RecordStaleFireSuppressed() {
	m.StaleFiresSuppressed.Inc()
}

// RecordInteractionLogged records an interaction event appended.
func (m *Metrics) RecordInteractionLogged() {
	m.InteractionsLogged.Inc()
}

// RecordInteractionAppendError records a failed log append.
func (m *Metrics) RecordInteractionAppendError() {
	m.InteractionAppendErrors.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(err error, latencySeconds float64) {
	m.KafkaPublishTotal.Inc()
	m.KafkaPublishLatency.Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.Inc()
	}
}
