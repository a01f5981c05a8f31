package chargemode

import (
	"context"

	"github.com/kilianp07/hems/core/events"
	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/internal/eventbus"
)

// CommandDispatcher sends power commands to the devices.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmds []model.PowerCommand)
}

// Handler reacts to device events that change charge modes.
type Handler struct {
	sw   *Switcher
	disp CommandDispatcher
	log  logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(sw *Switcher, disp CommandDispatcher, log logger.Logger) *Handler {
	return &Handler{sw: sw, disp: disp, log: log}
}

// Run consumes bus events until ctx is done or the bus is closed.
func (h *Handler) Run(ctx context.Context, bus *eventbus.Bus) {
	defer monitoring.Recover()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			h.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event. Unknown event types are ignored.
func (h *Handler) Handle(ctx context.Context, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.WallSwitchEvent:
		h.onWallSwitch(ctx, e)
	case events.SetCurrentEvent:
		h.onSetCurrent(ctx, e)
	}
}

func (h *Handler) onWallSwitch(ctx context.Context, e events.WallSwitchEvent) {
	l, m, ok := ModeForPress(e.ButtonID, e.Presses)
	if !ok {
		h.log.Debugf("no mode for button %d pressed %d times", e.ButtonID, e.Presses)
		return
	}
	if err := h.sw.Set(ctx, l, m, SourceWallSwitch); err != nil {
		h.log.Errorf("wall switch: %v", err)
	}
}

func (h *Handler) onSetCurrent(ctx context.Context, e events.SetCurrentEvent) {
	if e.Amps != ManualForcingAmps || !e.Location.Valid() {
		return
	}
	if err := h.sw.Set(ctx, e.Location, model.ModeManual, SourceManualOverride); err != nil {
		h.log.Errorf("manual override: %v", err)
	}
	if h.disp != nil {
		h.disp.Dispatch(ctx, []model.PowerCommand{{
			Type:  model.CurrentCommand(e.Location),
			Value: ManualForcingAmps + 1,
		}})
	}
}
