package model

import (
	"errors"
	"fmt"
)

// InputState is the telemetry snapshot a control cycle works on. Powers are
// in watts; GridPower is positive when importing and BatteryPower positive
// when charging.
type InputState struct {
	PrimaryLocation Optional[Location]                   `json:"primary_location"`
	GridPower       Optional[float64]                    `json:"grid_power"`
	BatteryMinSOC   Optional[float64]                    `json:"battery_min_soc"`
	BatterySOC      Optional[float64]                    `json:"battery_soc"`
	BatteryPower    Optional[float64]                    `json:"battery_power"`
	PVInverterPower Optional[float64]                    `json:"pv_inverter_power"`
	WallboxPower    PerLocation[Optional[float64]]       `json:"wallbox_power"`
	WallboxStatus   PerLocation[Optional[ChargerStatus]] `json:"wallbox_status"`
	ChargeMode      PerLocation[ChargeMode]              `json:"charge_mode"`
	HourOfDay       int                                  `json:"hour_of_day"`
}

// Validate checks the caller contract of a snapshot.
func (s InputState) Validate() error {
	var errs []error
	if s.HourOfDay < 0 || s.HourOfDay > 23 {
		errs = append(errs, fmt.Errorf("hour of day %d out of range", s.HourOfDay))
	}
	if p, ok := s.PrimaryLocation.Get(); ok && !p.Valid() {
		errs = append(errs, fmt.Errorf("invalid primary location %d", p))
	}
	for _, l := range Locations {
		if m := s.ChargeMode.Get(l); !m.Valid() {
			errs = append(errs, fmt.Errorf("%s: invalid charge mode %d", l, m))
		}
	}
	return errors.Join(errs...)
}

// Primary returns the primary location, Inside when unset or invalid.
func (s InputState) Primary() Location {
	if l, ok := s.PrimaryLocation.Get(); ok && l.Valid() {
		return l
	}
	return Inside
}

// SystemState is the measured device state the command builder compares
// targets against.
type SystemState struct {
	BatteryMaxChargePower Optional[int]                        `json:"battery_max_charge_power"`
	WallboxPower          PerLocation[Optional[float64]]       `json:"wallbox_power"`
	WallboxStatus         PerLocation[Optional[ChargerStatus]] `json:"wallbox_status"`
}

// Targets is the outcome of the target calculation for one cycle.
type Targets struct {
	InsideAmps         Optional[int]      `json:"inside_amps"`
	OutsideAmps        Optional[int]      `json:"outside_amps"`
	BatteryChargePower Optional[int]      `json:"battery_charge_power"`
	NewPrimaryLocation Optional[Location] `json:"new_primary_location"`
}

// Amps returns the target current of l.
func (t Targets) Amps(l Location) Optional[int] {
	if l == Inside {
		return t.InsideAmps
	}
	return t.OutsideAmps
}

// SetAmps stores the target current of l.
func (t *Targets) SetAmps(l Location, v Optional[int]) {
	if l == Inside {
		t.InsideAmps = v
		return
	}
	t.OutsideAmps = v
}
