// Package chargemode applies user charge-mode selections coming from the
// wall switch, the HTTP API or the wallbox itself, and persists them.
package chargemode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/events"
	"github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/internal/eventbus"
)

// Change sources.
const (
	SourceWallSwitch     = "wall_switch"
	SourceAPI            = "api"
	SourceManualOverride = "manual_override"
	SourceStartup        = "startup"
	SourceCLI            = "cli"
)

// Store persists the charge modes of both locations.
type Store interface {
	// Load returns the persisted modes; a location never saved is unset.
	Load(ctx context.Context) (model.PerLocation[model.Optional[model.ChargeMode]], error)
	Save(ctx context.Context, modes model.PerLocation[model.ChargeMode]) error
}

// State is the live holder of the modes read by the control loop.
type State interface {
	SetChargeMode(l model.Location, m model.ChargeMode) bool
	ChargeModes() model.PerLocation[model.ChargeMode]
}

// Switcher validates, applies, records and persists charge-mode changes.
type Switcher struct {
	state State
	store Store
	rec   coremetrics.ChargeModeRecorder
	bus   *eventbus.TypedBus[events.ModeChangedEvent]
	log   logger.Logger
	now   func() time.Time

	mu sync.Mutex
}

// NewSwitcher creates a Switcher. store, rec and bus may be nil.
func NewSwitcher(state State, store Store, rec coremetrics.ChargeModeRecorder, bus *eventbus.TypedBus[events.ModeChangedEvent], log logger.Logger) *Switcher {
	if rec == nil {
		rec = coremetrics.NopSink{}
	}
	return &Switcher{state: state, store: store, rec: rec, bus: bus, log: log, now: time.Now}
}

// Set switches l to m and persists both modes. The new mode is live even
// when persisting fails; that error wraps ErrNotPersisted.
func (s *Switcher) Set(ctx context.Context, l model.Location, m model.ChargeMode, source string) error {
	if !l.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLocation, l)
	}
	if !m.Valid() {
		s.log.Warnf("mode %d is not a valid charge mode", m)
		return fmt.Errorf("%w: %d", ErrInvalidMode, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(l, m, source)
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, s.state.ChargeModes()); err != nil {
		s.log.Errorf("failed to save charge modes: %v", err)
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// Load restores the persisted modes. Locations never saved get the default
// mode. Nothing is written back.
func (s *Switcher) Load(ctx context.Context) (model.PerLocation[model.ChargeMode], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saved model.PerLocation[model.Optional[model.ChargeMode]]
	if s.store != nil {
		var err error
		saved, err = s.store.Load(ctx)
		if err != nil {
			return s.state.ChargeModes(), fmt.Errorf("load charge modes: %w", err)
		}
	}
	for _, l := range model.Locations {
		m := saved.Get(l).OrElse(model.DefaultChargeMode)
		if !m.Valid() {
			s.log.Warnf("%s: ignoring persisted mode %d", l, m)
			m = model.DefaultChargeMode
		}
		s.apply(l, m, SourceStartup)
	}
	return s.state.ChargeModes(), nil
}

// Modes returns the live modes.
func (s *Switcher) Modes() model.PerLocation[model.ChargeMode] {
	return s.state.ChargeModes()
}

func (s *Switcher) apply(l model.Location, m model.ChargeMode, source string) {
	s.state.SetChargeMode(l, m)
	now := s.now()
	if err := s.rec.RecordChargeMode(coremetrics.ChargeModeEvent{Location: l, Mode: m, Source: source, Time: now}); err != nil {
		s.log.Warnf("record charge mode: %v", err)
	}
	s.log.Infow("set charge mode", map[string]any{
		"location": l.String(),
		"mode":     m.String(),
		"value":    int(m),
		"source":   source,
	})
	if s.bus != nil {
		s.bus.Publish(events.ModeChangedEvent{Location: l, Mode: m, Source: source, Time: now})
	}
}
