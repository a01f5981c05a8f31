package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/infra/logger"
)

// InfluxConfig holds the InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes control events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordCycle writes one control_cycle point.
func (s *InfluxSink) RecordCycle(ev coremetrics.CycleEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("control_cycle").
		AddTag("cycle_id", ev.CycleID).
		AddTag("enabled", strconv.FormatBool(ev.Enabled)).
		AddTag("primary", ev.Input.Primary().String()).
		AddField("commands", len(ev.Commands)).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	addOptional(p, "grid_power", ev.Input.GridPower)
	addOptional(p, "battery_soc", ev.Input.BatterySOC)
	addOptional(p, "battery_power", ev.Input.BatteryPower)
	for _, l := range model.Locations {
		if a, ok := ev.Targets.Amps(l).Get(); ok {
			p.AddField(l.String()+"_amps", a)
		}
		p.AddField(l.String()+"_mode", ev.Input.ChargeMode.Get(l).String())
	}
	if w, ok := ev.Targets.BatteryChargePower.Get(); ok {
		p.AddField("battery_charge_power", w)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTelemetry writes a telemetry point. Unknown values are skipped.
func (s *InfluxSink) RecordTelemetry(ev coremetrics.TelemetryEvent) error {
	v, ok := ev.Value.Get()
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("telemetry").
		AddTag("name", ev.Name).
		AddField("value", round3(v)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordChargeMode writes a charge_mode point.
func (s *InfluxSink) RecordChargeMode(ev coremetrics.ChargeModeEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charge_mode").
		AddTag("location", ev.Location.String()).
		AddTag("source", ev.Source).
		AddField("mode", int(ev.Mode)).
		AddField("mode_name", ev.Mode.String()).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordForecast writes one solar_forecast point per day.
func (s *InfluxSink) RecordForecast(ev coremetrics.ForecastEvent) error {
	if len(ev.Days) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(ev.Days))
	for i, wh := range ev.Days {
		points = append(points, write.NewPointWithMeasurement("solar_forecast").
			AddTag("source", ev.Source).
			AddTag("day", strconv.Itoa(i)).
			AddField("wh", round3(wh)).
			SetTime(ev.Time))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func addOptional(p *write.Point, name string, v model.Optional[float64]) {
	if f, ok := v.Get(); ok {
		p.AddField(name, round3(f))
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// RecordPrices writes one omie_price point per hour.
func (s *InfluxSink) RecordPrices(ev coremetrics.PriceEvent) error {
	if len(ev.Points) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(ev.Points))
	for _, pp := range ev.Points {
		points = append(points, write.NewPointWithMeasurement("omie_price").
			AddTag("source", ev.Source).
			AddTag("day", pp.Day).
			AddTag("hour", strconv.Itoa(pp.Hour)).
			AddField("cents", pp.Cents).
			SetTime(ev.Time))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}
