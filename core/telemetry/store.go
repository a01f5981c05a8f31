// Package telemetry holds the latest known state of the installation as
// reported over MQTT, together with the controller-owned parts of the
// control input (charge modes and primary location).
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/model"
)

// Field identifies a scalar measurement kept by the Store.
type Field int

const (
	GridPower Field = iota
	BatterySOC
	BatteryMinSOC
	BatteryPower
	PVInverterPower
	BatteryMaxChargePower
	numFields
)

// Store is safe for concurrent use. Writers are the MQTT callbacks and the
// charge-mode switcher; the control loop reads snapshots.
type Store struct {
	mu sync.RWMutex

	scalars       [numFields]model.Optional[float64]
	wallboxPower  model.PerLocation[model.Optional[float64]]
	wallboxStatus model.PerLocation[model.Optional[model.ChargerStatus]]
	setCurrent    model.PerLocation[model.Optional[float64]]
	modes         model.PerLocation[model.ChargeMode]
	primary       model.Optional[model.Location]
	updated       time.Time

	now func() time.Time
}

// NewStore returns a store with every measurement unknown and both
// locations in the default charge mode.
func NewStore() *Store {
	return &Store{
		modes: model.NewPerLocation(model.DefaultChargeMode, model.DefaultChargeMode),
		now:   time.Now,
	}
}

// Set stores a scalar measurement. An unset value marks it unknown.
func (s *Store) Set(f Field, v model.Optional[float64]) {
	if f < 0 || f >= numFields {
		return
	}
	s.mu.Lock()
	s.scalars[f] = v
	s.updated = s.now()
	s.mu.Unlock()
}

// Get returns a scalar measurement.
func (s *Store) Get(f Field) model.Optional[float64] {
	if f < 0 || f >= numFields {
		return model.None[float64]()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scalars[f]
}

// SetWallboxPower stores the measured AC power of a wallbox.
func (s *Store) SetWallboxPower(l model.Location, v model.Optional[float64]) {
	s.mu.Lock()
	s.wallboxPower.Set(l, v)
	s.updated = s.now()
	s.mu.Unlock()
}

// SetWallboxStatus stores the reported status of a wallbox.
func (s *Store) SetWallboxStatus(l model.Location, v model.Optional[model.ChargerStatus]) {
	s.mu.Lock()
	s.wallboxStatus.Set(l, v)
	s.updated = s.now()
	s.mu.Unlock()
}

// SetWallboxCurrent stores the current a wallbox reports as configured.
func (s *Store) SetWallboxCurrent(l model.Location, v model.Optional[float64]) {
	s.mu.Lock()
	s.setCurrent.Set(l, v)
	s.updated = s.now()
	s.mu.Unlock()
}

// WallboxCurrent returns the configured current last reported by l.
func (s *Store) WallboxCurrent(l model.Location) model.Optional[float64] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setCurrent.Get(l)
}

// SetChargeMode changes the mode of l. Invalid modes are ignored and
// reported as false.
func (s *Store) SetChargeMode(l model.Location, m model.ChargeMode) bool {
	if !m.Valid() || !l.Valid() {
		return false
	}
	s.mu.Lock()
	s.modes.Set(l, m)
	s.mu.Unlock()
	return true
}

// ChargeModes returns the modes of both locations.
func (s *Store) ChargeModes() model.PerLocation[model.ChargeMode] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modes
}

// SetPrimary records which location gets first pick of the available power.
func (s *Store) SetPrimary(l model.Location) {
	if !l.Valid() {
		return
	}
	s.mu.Lock()
	s.primary = model.Some(l)
	s.mu.Unlock()
}

// Primary returns the primary location, unset until the first handover.
func (s *Store) Primary() model.Optional[model.Location] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// Updated is the time of the most recent measurement.
func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Snapshot builds the input of a control cycle at the given hour.
func (s *Store) Snapshot(hour int) model.InputState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input(hour)
}

// SystemState returns the device state the command builder compares against.
func (s *Store) SystemState() model.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system()
}

// Capture returns the cycle input and the device state read at the same
// instant, so the builder compares against what the calculator saw.
func (s *Store) Capture(hour int) (model.InputState, model.SystemState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input(hour), s.system()
}

func (s *Store) input(hour int) model.InputState {
	return model.InputState{
		PrimaryLocation: s.primary,
		GridPower:       s.scalars[GridPower],
		BatteryMinSOC:   s.scalars[BatteryMinSOC],
		BatterySOC:      s.scalars[BatterySOC],
		BatteryPower:    s.scalars[BatteryPower],
		PVInverterPower: s.scalars[PVInverterPower],
		WallboxPower:    s.wallboxPower,
		WallboxStatus:   s.wallboxStatus,
		ChargeMode:      s.modes,
		HourOfDay:       hour,
	}
}

func (s *Store) system() model.SystemState {
	st := model.SystemState{
		WallboxPower:  s.wallboxPower,
		WallboxStatus: s.wallboxStatus,
	}
	if v, ok := s.scalars[BatteryMaxChargePower].Get(); ok {
		st.BatteryMaxChargePower = model.Some(int(math.Round(v)))
	}
	return st
}
