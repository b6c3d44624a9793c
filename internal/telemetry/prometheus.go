package telemetry

import "github.com/prometheus/client_golang/prometheus"

const meshlookNamespace string = "meshlook"

var (
	promRosterSize          prometheus.Gauge
	ServiceOperationCounter *prometheus.CounterVec
	SignalingMessageCounter *prometheus.CounterVec
)

func init() {
	promRosterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: meshlookNamespace,
		Subsystem: "roster",
		Name:      "size",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: meshlookNamespace,
			Subsystem: "node",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	SignalingMessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: meshlookNamespace,
			Subsystem: "signaling",
			Name:      "messages",
		},
		[]string{"method", "direction"},
	)

	prometheus.MustRegister(promRosterSize)
	prometheus.MustRegister(ServiceOperationCounter)
	prometheus.MustRegister(SignalingMessageCounter)
}

func RosterSize(n int) {
	promRosterSize.Set(float64(n))
}
