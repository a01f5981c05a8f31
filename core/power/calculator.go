package power

import "github.com/kilianp07/hems/core/model"

// targetKind is what a charge mode asks of a location at a given hour.
type targetKind int

const (
	kindNoAction targetKind = iota
	kindMaximumPossible
	kindExcessSun
	kindZero
)

type locationTarget struct {
	amps    model.Optional[int]
	concede bool
}

// Calculate computes the target currents, battery charge power and priority
// handover for one telemetry snapshot. It is pure: missing inputs yield unset
// outputs instead of guesses. It never panics; an invalid primary location
// counts as unset and an unknown charge mode asks for no action.
func Calculate(s model.InputState) model.Targets {
	primary := s.Primary()
	secondary := primary.Other()

	var res model.Targets

	primaryTarget := locationTargetFor(s, primary, 0)
	primaryAmps := coerce(primary, primaryTarget.amps)
	res.SetAmps(primary, primaryAmps)

	// the secondary location only gets what the primary leaves over
	increase := max(0, primaryAmps.OrElse(0)-measuredAmps(s, primary))

	secondaryTarget := locationTargetFor(s, secondary, increase)
	secondaryAmps := coerce(secondary, secondaryTarget.amps)
	res.SetAmps(secondary, secondaryAmps)

	increase = max(0, increase+secondaryAmps.OrElse(0)-measuredAmps(s, secondary))

	res.BatteryChargePower = batteryChargePower(s, increase)

	if primaryTarget.concede && !secondaryTarget.concede {
		res.NewPrimaryLocation = model.Some(secondary)
	}
	return res
}

func measuredAmps(s model.InputState, l model.Location) int {
	return PowerToAmps(s.WallboxPower.Get(l).OrElse(0))
}

func modeToKind(s model.InputState, l model.Location) targetKind {
	offPeak := IsOffPeak(s.HourOfDay)

	switch s.ChargeMode.Get(l) {
	case model.ModeOn:
		return kindMaximumPossible
	case model.ModeNight:
		if offPeak {
			return kindMaximumPossible
		}
		return kindExcessSun
	case model.ModeESSOnly:
		socMargin := 2 * ((24 + OffPeakEndHour - s.HourOfDay) % 24)
		soc, okSOC := s.BatterySOC.Get()
		minSOC, okMin := s.BatteryMinSOC.Get()
		if offPeak && okSOC && okMin && soc > minSOC+float64(socMargin) {
			return kindMaximumPossible
		}
		return kindExcessSun
	case model.ModeSunOnly:
		return kindExcessSun
	case model.ModeOff:
		return kindZero
	default:
		return kindNoAction
	}
}

func locationTargetFor(s model.InputState, l model.Location, increase int) locationTarget {
	kind := modeToKind(s, l)
	if kind == kindNoAction {
		return locationTarget{amps: model.None[int](), concede: true}
	}

	if status, ok := s.WallboxStatus.Get(l).Get(); ok && !status.CanCharge() {
		return locationTarget{amps: model.Some(0), concede: true}
	}

	wallboxAmps := measuredAmps(s, l)
	batteryAmps := PowerToAmps(s.BatteryPower.OrElse(0))

	switch kind {
	case kindMaximumPossible:
		gridAmps := MaxGridAmps
		if grid, ok := s.GridPower.Get(); ok {
			gridAmps = PowerToAmps(grid)
		}
		amps := wallboxAmps + batteryAmps + MaxGridAmps - increase - gridAmps
		return locationTarget{amps: model.Some(amps), concede: false}
	case kindExcessSun:
		if hasExcessSun(s) {
			soc, _ := s.BatterySOC.Get()
			bump := 0
			if soc >= BatteryFullSOC {
				bump = BatteryFullBumpAmps
			}
			amps := wallboxAmps + batteryAmps + bump - increase
			return locationTarget{amps: model.Some(amps), concede: false}
		}
	}
	return locationTarget{amps: model.Some(0), concede: true}
}

func hasExcessSun(s model.InputState) bool {
	soc, okSOC := s.BatterySOC.Get()
	minSOC, okMin := s.BatteryMinSOC.Get()
	pv, okPV := s.PVInverterPower.Get()
	return okSOC && okMin && okPV && soc > minSOC+1 && pv > DetectSunMinPVPower
}

// coerce floors currents below MinChargeAmps to zero and caps the rest at the
// location maximum.
func coerce(l model.Location, amps model.Optional[int]) model.Optional[int] {
	a, ok := amps.Get()
	if !ok {
		return amps
	}
	if a < MinChargeAmps {
		return model.Some(0)
	}
	return model.Some(min(a, MaxAmps.Get(l)))
}

func batteryChargePower(s model.InputState, increase int) model.Optional[int] {
	soc, okSOC := s.BatterySOC.Get()
	minSOC, okMin := s.BatteryMinSOC.Get()
	if !okSOC || !okMin {
		return model.None[int]()
	}
	grid, ok := s.GridPower.Get()
	if !ok {
		return model.Some(MinBatteryChargePower)
	}
	if soc >= minSOC {
		return model.Some(MaxBatteryChargePower)
	}
	target := int(roundHalfUp(s.BatteryPower.OrElse(0) + AmpsToPower(MaxGridAmps-increase) - grid))
	return model.Some(min(MaxBatteryChargePower, max(MinBatteryChargePower, target)))
}
