package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the client-side counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesFailed   prometheus.Counter
	Reconnects       prometheus.Counter
	APIErrors        *prometheus.CounterVec
	Connected        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages submitted by the viewer",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Inbound message events applied to the store",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_failed_total",
			Help: "Optimistic messages that were never confirmed",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_transport_reconnects_total",
			Help: "Websocket reconnect attempts",
		}),
		APIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_api_errors_total",
			Help: "Failed REST calls by operation",
		}, []string{"op"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_transport_connected",
			Help: "1 while the websocket is up",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesSent, m.MessagesReceived, m.MessagesFailed,
			m.Reconnects, m.APIErrors, m.Connected)
	}
	return m
}

func (m *Metrics) Sent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) Received() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

func (m *Metrics) Failed() {
	if m != nil {
		m.MessagesFailed.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) APIError(op string) {
	if m != nil {
		m.APIErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// Handler returns an http.Handler for Prometheus scraping of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
