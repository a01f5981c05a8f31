package metrics

import (
	"time"

	"github.com/kilianp07/hems/core/model"
)

// CycleEvent summarises one control cycle.
type CycleEvent struct {
	CycleID  string
	Input    model.InputState
	Targets  model.Targets
	Commands []model.PowerCommand
	Enabled  bool
	Duration time.Duration
	Time     time.Time
}

// MetricsSink records control cycles for observability purposes.
type MetricsSink interface {
	RecordCycle(ev CycleEvent) error
}

// TelemetryEvent is one measurement received from the installation. Name
// is the short metric name, for example "battery_soc".
type TelemetryEvent struct {
	Name  string
	Value model.Optional[float64]
	Time  time.Time
}

// TelemetryRecorder records raw measurements.
type TelemetryRecorder interface {
	RecordTelemetry(ev TelemetryEvent) error
}

// ChargeModeEvent is emitted whenever a location changes charge mode.
type ChargeModeEvent struct {
	Location model.Location
	Mode     model.ChargeMode
	Source   string
	Time     time.Time
}

// ChargeModeRecorder records charge-mode changes.
type ChargeModeRecorder interface {
	RecordChargeMode(ev ChargeModeEvent) error
}

// ForecastEvent holds the solar production forecast in watt-hours, index 0
// being today.
type ForecastEvent struct {
	Source string
	Days   []float64
	Time   time.Time
}

// ForecastRecorder records solar forecasts.
type ForecastRecorder interface {
	RecordForecast(ev ForecastEvent) error
}

// PricePoint is the retail price of one hour in cents per kWh. Day is
// "today" or "tomorrow".
type PricePoint struct {
	Day   string
	Hour  int
	Cents int
}

// PriceEvent holds the hourly electricity prices of today and tomorrow.
type PriceEvent struct {
	Source string
	Points []PricePoint
	Time   time.Time
}

// PriceRecorder records day-ahead electricity prices.
type PriceRecorder interface {
	RecordPrices(ev PriceEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleEvent) error           { return nil }
func (NopSink) RecordTelemetry(TelemetryEvent) error   { return nil }
func (NopSink) RecordChargeMode(ChargeModeEvent) error { return nil }
func (NopSink) RecordForecast(ForecastEvent) error     { return nil }
func (NopSink) RecordPrices(PriceEvent) error          { return nil }
