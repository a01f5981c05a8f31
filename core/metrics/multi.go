package metrics

import "errors"

// MultiSink fans events out to multiple sinks. Every sink receives the
// event even when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the cycle to all sinks.
func (m *MultiSink) RecordCycle(ev CycleEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordCycle(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordTelemetry forwards measurements to sinks implementing TelemetryRecorder.
func (m *MultiSink) RecordTelemetry(ev TelemetryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(TelemetryRecorder); ok {
			if err := rec.RecordTelemetry(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordChargeMode forwards mode changes to sinks implementing ChargeModeRecorder.
func (m *MultiSink) RecordChargeMode(ev ChargeModeEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(ChargeModeRecorder); ok {
			if err := rec.RecordChargeMode(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordForecast forwards forecasts to sinks implementing ForecastRecorder.
func (m *MultiSink) RecordForecast(ev ForecastEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(ForecastRecorder); ok {
			if err := rec.RecordForecast(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordPrices forwards prices to sinks implementing PriceRecorder.
func (m *MultiSink) RecordPrices(ev PriceEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(PriceRecorder); ok {
			if err := rec.RecordPrices(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
