package observability

import "github.com/prometheus/client_golang/prometheus"

// Gateway collectors. Label sets are closed enums (destinations, outcomes,
// results) so cardinality stays fixed regardless of user count.
var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Open websocket connections.",
	})

	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_users_online",
		Help: "Distinct users with at least one open connection.",
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deliveries_total",
		Help: "Frames enqueued to client connections, by destination.",
	}, []string{"destination"})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_dropped_total",
		Help: "Outbound frames dropped because a connection send buffer was full.",
	})

	Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_alerts_total",
		Help: "Alerts accepted by the notification buffer, by outcome.",
	}, []string{"outcome"})

	ChatbotRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_chatbot_requests_total",
		Help: "Calls to the automated responder, by result.",
	}, []string{"result"})

	ChatbotLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_chatbot_latency_seconds",
		Help:    "Latency of automated responder calls.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	Flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_flushes_total",
		Help: "Notification buffer flushes that delivered at least one message.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive, UsersOnline, Deliveries, FramesDropped,
		Alerts, ChatbotRequests, ChatbotLatency, Flushes,
	)
}
