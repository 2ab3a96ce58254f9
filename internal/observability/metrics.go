package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	Turns               *prometheus.CounterVec
	DroppedRecords      *prometheus.CounterVec
	ProtocolModes       *prometheus.CounterVec
	TransportErrors     *prometheus.CounterVec
	SideChannel         *prometheus.CounterVec
	PreflightWarnings   *prometheus.CounterVec
	FirstContentLatency prometheus.Histogram

	gatherer prometheus.Gatherer
	stages   *stageWindow
}

// NewMetrics registers the instruments on reg. A nil reg uses the default registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of active conversations.",
		}),
		ConversationEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction, type and delivery result.",
		}, []string{"direction", "type", "result"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome"}),
		DroppedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_records_total",
			Help:      "Stream records dropped by the classifier, by reason.",
		}, []string{"reason"}),
		ProtocolModes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_modes_total",
			Help:      "Latched payload modes per turn.",
		}, []string{"mode"}),
		TransportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Generation transport failures by code.",
		}, []string{"code"}),
		SideChannel: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_lookups_total",
			Help:      "Side-channel suggestion lookups by result.",
		}, []string{"result"}),
		PreflightWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_detections_total",
			Help:      "Sensitive-data detections reported by preflight, by detector.",
		}, []string{"detector"}),
		FirstContentLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_content_latency_ms",
			Help:      "Latency from turn start to first visible answer text in milliseconds.",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2500, 5000, 10000},
		}),
		gatherer: gatherer,
		stages:   newStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstContentLatency(d time.Duration) {
	m.FirstContentLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageFirstContent, d)
}

// ObserveOutboundMessage counts a server-to-client websocket message by
// delivery result (delivered, dropped, timeout).
func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.WSMessages.WithLabelValues("outbound", msgType, result).Inc()
}

func (m *Metrics) ObserveInboundMessage(msgType string) {
	m.WSMessages.WithLabelValues("inbound", msgType, "received").Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.Reset()
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
