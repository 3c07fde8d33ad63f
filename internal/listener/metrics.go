package listener

import "github.com/prometheus/client_golang/prometheus"

var callbackFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "notifyd",
		Subsystem: "listener",
		Name:      "callback_failures_total",
		Help:      "Listener callbacks that returned an error or panicked, by phase",
	},
	[]string{"phase"},
)

const (
	phaseInit         = "init"
	phaseStateChanged = "state_changed"
	phaseCleanup      = "cleanup"
)

func init() {
	prometheus.MustRegister(callbackFailuresTotal)
}
