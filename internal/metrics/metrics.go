package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the client's operational counters. Every record method
// is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent   prometheus.Counter
	chunksReceived prometheus.Counter
	sendRetries    prometheus.Counter
	reconnects     prometheus.Counter
	healthProbes   prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	stateChanges   *prometheus.CounterVec
	connected      prometheus.Gauge
	sendLatency    prometheus.Histogram
}

// Error stages used as the label on the errors counter.
const (
	StageConnect  = "connect"
	StageSend     = "send"
	StageDecode   = "decode"
	StageServer   = "server"
	StageHealth   = "health"
	StageListener = "listener"
)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_messages_sent_total",
			Help: "Chat messages successfully written to the websocket.",
		}),
		chunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_chunks_received_total",
			Help: "Streamed reply chunks dispatched to request callbacks.",
		}),
		sendRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_send_retries_total",
			Help: "Send attempts repeated after a transport failure.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_reconnect_attempts_total",
			Help: "Connection attempts made by reconnect campaigns.",
		}),
		healthProbes: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_health_probes_total",
			Help: "Application-level keepalive probes sent.",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_errors_total",
			Help: "Errors observed by the client, labelled by stage.",
		}, []string{"stage"}),
		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_connection_state_changes_total",
			Help: "Connection state transitions, labelled by new state.",
		}, []string{"state"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wirechat_connected",
			Help: "1 while the websocket connection is established.",
		}),
		sendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wirechat_send_duration_seconds",
			Help:    "Blocking send duration, including retries.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
}

func (m *Metrics) RecordSendRetry() {
	if m == nil {
		return
	}
	m.sendRetries.Inc()
}

func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) RecordHealthProbe() {
	if m == nil {
		return
	}
	m.healthProbes.Inc()
}

func (m *Metrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordStateChange(state string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(state).Inc()
	if state == "connected" {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) ObserveSendDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
