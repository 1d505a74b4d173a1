package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pipeline_build_info",
		Help: "Constant 1, labelled with the running binary, version and commit.",
	},
	[]string{"binary", "version", "commit"},
)

func SetBuildInfo(binary, version, commit string) {
	buildInfo.WithLabelValues(binary, version, commit).Set(1)
}
