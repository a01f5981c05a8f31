package mqtt

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	connectionStatus prometheus.Gauge
	errorsTotal      *prometheus.CounterVec
)

func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Gauge, *prometheus.CounterVec) {
	recv := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_received_total",
		Help: "Number of MQTT messages received",
	})
	sent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_sent_total",
		Help: "Number of MQTT messages published",
	})
	status := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "1 when connected to the MQTT broker",
	})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "MQTT errors by kind",
	}, []string{"type"})
	return recv, sent, status, errs
}

func init() {
	messagesReceived, messagesSent, connectionStatus, errorsTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers MQTT metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(messagesReceived, messagesSent, connectionStatus, errorsTotal)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	messagesReceived, messagesSent, connectionStatus, errorsTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
