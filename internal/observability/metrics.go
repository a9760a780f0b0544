package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	restRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_rest_requests_total",
			Help: "Total number of REST collaborator calls issued by the chat client.",
		},
		[]string{"operation", "status"},
	)
	restRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_rest_request_duration_seconds",
			Help:    "REST collaborator call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	wsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_client_ws_connected",
			Help: "Whether the realtime channel is currently connected (0 or 1).",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_events_total",
			Help: "Total number of realtime channel frames by direction and type.",
		},
		[]string{"direction", "event"},
	)
	wsReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_ws_reconnects_total",
			Help: "Total number of successful channel reconnects.",
		},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_sends_total",
			Help: "Total number of message sends by delivery path.",
		},
		[]string{"path"},
	)
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_reconciliations_total",
			Help: "Total number of message-created events reconciled, by outcome.",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		restRequestsTotal,
		restRequestDuration,
		wsConnected,
		wsEventsTotal,
		wsReconnectsTotal,
		sendsTotal,
		reconciliationsTotal,
		amqpPublishErrorsTotal,
	)
}

func ObserveRESTRequest(operation, status string, seconds float64) {
	restRequestsTotal.WithLabelValues(operation, status).Inc()
	restRequestDuration.WithLabelValues(operation).Observe(seconds)
}

func SetWSConnected(connected bool) {
	if connected {
		wsConnected.Set(1)
		return
	}
	wsConnected.Set(0)
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncWSReconnect() {
	wsReconnectsTotal.Inc()
}

func IncSend(path string) {
	sendsTotal.WithLabelValues(path).Inc()
}

func IncReconciliation(outcome string) {
	reconciliationsTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
