package power

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal   *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	targetAmps      *prometheus.GaugeVec
	targetBattery   prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Gauge) {
	cmds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hems_commands_total",
			Help: "Number of power commands handled, by type and whether they were published or simulated",
		},
		[]string{"type", "mode"},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hems_publish_failures_total",
			Help: "Number of power commands whose publish failed",
		},
		[]string{"type"},
	)
	amps := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ess_wallbox_target_amps",
			Help: "Smoothed target current of the wallbox in amps",
		},
		[]string{"location"},
	)
	battery := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ess_battery_target_power",
			Help: "Target maximum battery charge power in watts",
		},
	)
	return cmds, fail, amps, battery
}

func init() {
	commandsTotal, publishFailures, targetAmps, targetBattery = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers power metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsTotal, publishFailures, targetAmps, targetBattery)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsTotal, publishFailures, targetAmps, targetBattery = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
