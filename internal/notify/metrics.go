package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	dispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "notify",
			Name:      "dispatched_total",
			Help:      "Notifications dispatched, by type",
		},
		[]string{"type"},
	)

	deliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Handler invocations performed by dispatch",
		},
	)

	handlerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "notify",
			Name:      "handler_panics_total",
			Help:      "Handler invocations that panicked and were recovered",
		},
	)

	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped by full channel handlers",
		},
	)

	subscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notifyd",
			Subsystem: "notify",
			Name:      "subscriptions",
			Help:      "Registered (pattern, handler, filter) entries",
		},
	)
)

func init() {
	prometheus.MustRegister(dispatchedTotal, deliveredTotal, handlerPanicsTotal, droppedTotal, subscriptions)
}
