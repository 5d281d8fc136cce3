// Package metrics exposes chat counters to Prometheus.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for inbound events.
const (
	DropDecrypt   = "decrypt"
	DropSender    = "sender"
	DropEcho      = "echo"
	DropDuplicate = "duplicate"
)

type Metrics struct {
	received        prometheus.Counter
	dropped         *prometheus.CounterVec
	sent            *prometheus.CounterVec
	sendFailures    prometheus.Counter
	reconnects      prometheus.Counter
	connectionState prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heychat_messages_received_total",
			Help: "Number of inbound messages appended to a conversation",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heychat_inbound_dropped_total",
			Help: "Number of inbound events dropped, by reason",
		}, []string{"reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heychat_messages_sent_total",
			Help: "Number of messages sent, by message type",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heychat_send_failures_total",
			Help: "Number of failed sends",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heychat_reconnect_attempts_total",
			Help: "Number of reconnect attempts",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heychat_connection_state",
			Help: "0 disconnected, 1 connecting, 2 connected, 3 connection lost",
		}),
	}
}

// Register adds all collectors to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.received, m.dropped, m.sent, m.sendFailures, m.reconnects, m.connectionState,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Sent(msgType string) {
	if m != nil {
		m.sent.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) ConnectionState(v int) {
	if m != nil {
		m.connectionState.Set(float64(v))
	}
}
