package poller

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Metric ticks by result (ok, filtered, error)",
		},
		[]string{"result"},
	)

	registrations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notifyd",
			Subsystem: "poller",
			Name:      "registrations",
			Help:      "Live metric registrations",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, registrations)
}
