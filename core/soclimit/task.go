package soclimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/model"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
	"github.com/kilianp07/hems/core/power"
)

// TopicSuffix is the minimum SOC setting relative to the write prefix.
const TopicSuffix = "settings/0/Settings/CGwacs/BatteryLife/MinimumSocLimit"

// ForecastSource exposes the solar forecast by day offset.
type ForecastSource interface {
	Day(offset int) model.Optional[float64]
}

// SOCSource exposes the current battery state of charge.
type SOCSource interface {
	SOC() model.Optional[float64]
}

// SOCFunc adapts a function to SOCSource.
type SOCFunc func() model.Optional[float64]

// SOC implements SOCSource.
func (f SOCFunc) SOC() model.Optional[float64] { return f() }

// Task publishes the morning and evening limits.
type Task struct {
	pub      coremqtt.Publisher
	topic    string
	cfg      power.Config
	forecast ForecastSource
	soc      SOCSource
	log      logger.Logger
	now      func() time.Time
}

// NewTask creates a Task writing below writePrefix. Publishing follows the
// same enable flag as the power commands.
func NewTask(pub coremqtt.Publisher, writePrefix string, cfg power.Config, fc ForecastSource, soc SOCSource, log logger.Logger) *Task {
	return &Task{
		pub:      pub,
		topic:    writePrefix + TopicSuffix,
		cfg:      cfg,
		forecast: fc,
		soc:      soc,
		log:      log,
		now:      time.Now,
	}
}

// RunMorning publishes MorningLimit.
func (t *Task) RunMorning(ctx context.Context) (int, error) {
	v := Morning()
	return v, t.publish(ctx, v)
}

// RunEvening computes and publishes the overnight reserve.
func (t *Task) RunEvening(ctx context.Context) (Result, error) {
	p := Params{Hour: t.now().Hour()}
	if t.forecast != nil {
		p.TomorrowWh = t.forecast.Day(1)
	}
	if t.soc != nil {
		p.SOC = t.soc.SOC()
	}
	res := Evening(p)
	t.log.Infow("evening soc limit", map[string]any{
		"value":        res.Value,
		"tomorrow_kwh": res.TomorrowKWh,
		"range_max":    res.RangeMax,
		"range_min":    res.RangeMin,
		"current_soc":  res.CurrentSOC,
	})
	return res, t.publish(ctx, res.Value)
}

func (t *Task) publish(ctx context.Context, v int) error {
	if !t.cfg.Enabled || t.pub == nil {
		t.log.Infof("simulating soc limit %d on %s", v, t.topic)
		return nil
	}
	payload, err := power.ValuePayload(v)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout())
	defer cancel()
	if err := t.pub.Publish(pctx, t.topic, payload); err != nil {
		return fmt.Errorf("publish soc limit: %w", err)
	}
	t.log.Infof("soc limit set to %d", v)
	return nil
}
