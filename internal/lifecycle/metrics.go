package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var transitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "notifyd",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Process state transitions by target state",
	},
	[]string{"to"},
)

func init() {
	prometheus.MustRegister(transitionsTotal)
}
