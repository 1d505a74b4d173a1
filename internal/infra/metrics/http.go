package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequests, httpLatencyMs) }

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)

	httpLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_latency_ms",
			Help:    "HTTP handler latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"route"},
	)
)

func ObserveHTTP(route string, code int, latencyMs int64) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpLatencyMs.WithLabelValues(route).Observe(float64(latencyMs))
}
