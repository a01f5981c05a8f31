package app

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/events"
	"github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/core/power"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/internal/eventbus"
)

// CommandDispatcher sends commands to the devices.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmds []model.PowerCommand)
	Enabled() bool
}

// ControlLoop runs the calculate, build and dispatch sequence on a fixed
// interval and whenever a charge mode changes. Cycles never overlap; a
// cycle requested while one is running is skipped.
type ControlLoop struct {
	store    *telemetry.Store
	builder  *power.CommandBuilder
	disp     CommandDispatcher
	sink     coremetrics.MetricsSink
	cycles   cyclelog.LogStore
	log      logger.Logger
	interval time.Duration
	now      func() time.Time

	busy sync.Mutex

	mu   sync.RWMutex
	last *cyclelog.Record
}

// NewControlLoop creates a loop. sink and cycles may be nil.
func NewControlLoop(store *telemetry.Store, disp CommandDispatcher, sink coremetrics.MetricsSink,
	cycles cyclelog.LogStore, interval time.Duration, log logger.Logger) *ControlLoop {
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &ControlLoop{
		store:    store,
		builder:  power.NewCommandBuilder(),
		disp:     disp,
		sink:     sink,
		cycles:   cycles,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Run executes cycles until ctx is done. modes may be nil.
func (c *ControlLoop) Run(ctx context.Context, modes *eventbus.TypedBus[events.ModeChangedEvent]) {
	defer monitoring.Recover()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var changed <-chan events.ModeChangedEvent
	if modes != nil {
		sub := modes.Subscribe()
		defer modes.Unsubscribe(sub)
		changed = sub
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunCycle(ctx)
		case ev, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
			if ev.Source == chargemode.SourceStartup {
				continue
			}
			c.log.Debugf("charge mode of %s changed to %s, running cycle", ev.Location, ev.Mode)
			c.RunCycle(ctx)
		}
	}
}

// RunCycle runs one cycle unless another one is in progress, in which case
// it reports false.
func (c *ControlLoop) RunCycle(ctx context.Context) (cyclelog.Record, bool) {
	if !c.busy.TryLock() {
		cyclesSkipped.Inc()
		c.log.Warnf("control cycle still running, skipping")
		return cyclelog.Record{}, false
	}
	defer c.busy.Unlock()

	start := c.now()
	in, sys := c.store.Capture(start.Hour())
	if err := in.Validate(); err != nil {
		c.log.Errorf("invalid control input, skipping cycle: %v", err)
		return cyclelog.Record{}, false
	}
	targets := power.Calculate(in)
	if p, ok := targets.NewPrimaryLocation.Get(); ok {
		c.store.SetPrimary(p)
	}
	cmds := c.builder.Build(sys, targets)
	c.disp.Dispatch(ctx, cmds)
	d := c.now().Sub(start)
	res := cyclelog.NewRecord(start, in, targets, cmds, c.disp.Enabled(), d)

	c.log.Debugw("control cycle", map[string]any{
		"cycle_id": res.ID,
		"primary":  in.Primary().String(),
		"targets":  targets,
		"commands": len(cmds),
	})
	if err := c.sink.RecordCycle(coremetrics.CycleEvent{
		CycleID:  res.ID,
		Input:    in,
		Targets:  targets,
		Commands: cmds,
		Enabled:  res.Enabled,
		Duration: d,
		Time:     start,
	}); err != nil {
		c.log.Warnf("record cycle: %v", err)
	}
	if c.cycles != nil {
		if err := c.cycles.Append(ctx, res); err != nil {
			c.log.Errorf("append cycle log: %v", err)
		}
	}

	c.mu.Lock()
	c.last = &res
	c.mu.Unlock()
	return res, true
}

// Last returns the most recent cycle.
func (c *ControlLoop) Last() (cyclelog.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return cyclelog.Record{}, false
	}
	return *c.last, true
}

// History returns the smoothing window of l.
func (c *ControlLoop) History(l model.Location) []model.Optional[int] {
	return c.builder.History(l)
}
