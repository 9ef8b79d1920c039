package controller

import "github.com/prometheus/client_golang/prometheus"

var controllerSwitchesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "traject_controller_switches_total",
		Help: "Total number of controller activation switches performed.",
	},
)

func init() {
	prometheus.MustRegister(controllerSwitchesTotal)
}
