package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequests) }

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Read-through cache lookups by cache name and outcome (hit|miss|error).",
	},
	[]string{"cache", "outcome"},
)

func IncCacheRequest(cache, outcome string) {
	cacheRequests.WithLabelValues(norm(cache), norm(outcome)).Inc()
}
