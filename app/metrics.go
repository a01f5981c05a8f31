package app

import "github.com/prometheus/client_golang/prometheus"

var cyclesSkipped prometheus.Counter

func newCollectors() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hems_control_cycles_skipped_total",
		Help: "Number of control cycles skipped because the previous one was still running",
	})
}

func init() {
	cyclesSkipped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers control loop metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cyclesSkipped)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	cyclesSkipped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
