package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookEventsTotal) }

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Video host webhook deliveries by event type and outcome.",
	},
	[]string{"type", "outcome"}, // outcome: handled | duplicate | ignored | rejected | error
)

func IncWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}
