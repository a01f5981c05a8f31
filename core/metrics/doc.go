// Package metrics defines the sinks the controller reports to. A sink
// records control cycles and may additionally implement the optional
// recorder interfaces for telemetry, charge-mode changes and solar
// forecasts. Sinks are built from configuration through NewMetricsSink,
// which wraps several sinks in a MultiSink.
package metrics
