package metrics

import "github.com/kilianp07/hems/core/factory"

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink creates a MetricsSink from the provided configuration.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return sinkRegistry.Create(cfgs[0])
	}
	sinks := make([]MetricsSink, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}

// Telemetry returns the TelemetryRecorder side of s, or a no-op recorder.
func Telemetry(s MetricsSink) TelemetryRecorder {
	if r, ok := s.(TelemetryRecorder); ok {
		return r
	}
	return NopSink{}
}

// ChargeModes returns the ChargeModeRecorder side of s, or a no-op recorder.
func ChargeModes(s MetricsSink) ChargeModeRecorder {
	if r, ok := s.(ChargeModeRecorder); ok {
		return r
	}
	return NopSink{}
}

// Forecasts returns the ForecastRecorder side of s, or a no-op recorder.
func Forecasts(s MetricsSink) ForecastRecorder {
	if r, ok := s.(ForecastRecorder); ok {
		return r
	}
	return NopSink{}
}

// Prices returns the PriceRecorder side of s, or a no-op recorder.
func Prices(s MetricsSink) PriceRecorder {
	if r, ok := s.(PriceRecorder); ok {
		return r
	}
	return NopSink{}
}
