package metrics

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/hems/core/metrics"
)

// TelemetryPrefix is prepended to telemetry names to form gauge names.
const TelemetryPrefix = "ess_"

// PromSink records control cycles, measurements, charge modes, forecasts
// and electricity prices in Prometheus metrics.
type PromSink struct {
	reg      prometheus.Registerer
	cycles   *prometheus.CounterVec
	duration prometheus.Histogram
	commands prometheus.Histogram
	modes    *prometheus.GaugeVec
	forecast *prometheus.GaugeVec
	prices   *prometheus.GaugeVec

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{reg: reg, gauges: make(map[string]prometheus.Gauge)}
	var err error
	if s.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hems_control_cycles_total",
		Help: "Number of control cycles, by whether commands were published",
	}, []string{"enabled"})); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hems_cycle_duration_seconds",
		Help:    "Duration of a control cycle including dispatch",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.commands, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hems_cycle_commands",
		Help:    "Number of commands produced per control cycle",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})); err != nil {
		return nil, err
	}
	if s.modes, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ess_wallbox_charge_mode",
		Help: "Charge mode of the wallbox",
	}, []string{"location"})); err != nil {
		return nil, err
	}
	if s.forecast, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ess_solar_forecast",
		Help: "Forecast solar production in watt-hours, day 0 being today",
	}, []string{"day", "source"})); err != nil {
		return nil, err
	}
	if s.prices, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ess_omie_price",
		Help: "Retail electricity price in cents per kWh",
	}, []string{"day", "hour"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCycle counts the cycle and observes its duration.
func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	s.cycles.WithLabelValues(strconv.FormatBool(ev.Enabled)).Inc()
	s.duration.Observe(ev.Duration.Seconds())
	s.commands.Observe(float64(len(ev.Commands)))
	return nil
}

// RecordTelemetry sets the ess_<name> gauge. Unknown values are exported
// as NaN.
func (s *PromSink) RecordTelemetry(ev coremetrics.TelemetryEvent) error {
	g, err := s.gauge(ev.Name)
	if err != nil {
		return err
	}
	g.Set(ev.Value.OrElse(math.NaN()))
	return nil
}

func (s *PromSink) gauge(name string) (prometheus.Gauge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, nil
	}
	g, err := register(s.reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: TelemetryPrefix + name,
		Help: "Victron measurement " + name,
	}))
	if err != nil {
		return nil, err
	}
	s.gauges[name] = g
	return g, nil
}

// RecordChargeMode sets the charge-mode gauge of the location.
func (s *PromSink) RecordChargeMode(ev coremetrics.ChargeModeEvent) error {
	s.modes.WithLabelValues(ev.Location.String()).Set(float64(ev.Mode))
	return nil
}

// RecordForecast sets one gauge per forecast day.
func (s *PromSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	for i, wh := range ev.Days {
		s.forecast.WithLabelValues(strconv.Itoa(i), ev.Source).Set(wh)
	}
	return nil
}

// RecordPrices sets one gauge per day and hour.
func (s *PromSink) RecordPrices(ev coremetrics.PriceEvent) error {
	for _, p := range ev.Points {
		s.prices.WithLabelValues(p.Day, fmt.Sprintf("%02d", p.Hour)).Set(float64(p.Cents))
	}
	return nil
}
