package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		stageLatencyMs,
		detectorCallsTotal,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "Multimodal call latency distribution in milliseconds.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 20000, 40000, 80000},
		},
		[]string{"provider", "model", "success"},
	)

	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_latency_ms",
			Help:    "Analysis pipeline stage latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"stage", "success"},
	)

	detectorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_calls_total",
			Help: "Object detector calls, labeled by success.",
		},
		[]string{"success"},
	)
)

func ObserveAICall(provider, model string, tokensIn, tokensOut int, latencyMs int64, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func ObserveStage(stage string, latencyMs int64, success bool) {
	stageLatencyMs.WithLabelValues(norm(stage), strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncDetectorCall(success bool) {
	detectorCallsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}
