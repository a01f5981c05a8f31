package power

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/model"
)

func sunnyState() model.InputState {
	return model.InputState{
		GridPower:       model.Some(0.0),
		BatteryMinSOC:   model.Some(20.0),
		BatterySOC:      model.Some(50.0),
		BatteryPower:    model.Some(0.0),
		PVInverterPower: model.Some(1000.0),
		WallboxPower:    model.NewPerLocation(model.Some(0.0), model.Some(0.0)),
		WallboxStatus: model.NewPerLocation(
			model.Some(model.StatusCharging),
			model.Some(model.StatusCharging),
		),
		ChargeMode: model.NewPerLocation(model.ModeSunOnly, model.ModeSunOnly),
		HourOfDay:  12,
	}
}

func requireAmps(t *testing.T, want int, got model.Optional[int]) {
	t.Helper()
	v, ok := got.Get()
	require.True(t, ok, "expected amps to be set")
	assert.Equal(t, want, v)
}

func TestCalculateSunOnlyDefault(t *testing.T) {
	res := Calculate(sunnyState())

	requireAmps(t, 0, res.InsideAmps)
	requireAmps(t, 0, res.OutsideAmps)
	requireAmps(t, MaxBatteryChargePower, res.BatteryChargePower)
	assert.False(t, res.NewPrimaryLocation.IsSet())
}

func TestCalculateBatteryScenarios(t *testing.T) {
	base := model.InputState{
		GridPower:     model.Some(0.0),
		BatteryMinSOC: model.Some(55.0),
		BatterySOC:    model.Some(50.0),
		ChargeMode:    model.NewPerLocation(model.ModeOff, model.ModeOff),
		HourOfDay:     23,
	}

	res := Calculate(base)
	requireAmps(t, MaxBatteryChargePower, res.BatteryChargePower)
	requireAmps(t, 0, res.InsideAmps)
	requireAmps(t, 0, res.OutsideAmps)

	base.GridPower = model.Some(7000.0)
	res = Calculate(base)
	requireAmps(t, MinBatteryChargePower, res.BatteryChargePower)
}

func TestCalculateBatteryChargePower(t *testing.T) {
	tests := []struct {
		name string
		edit func(*model.InputState)
		want model.Optional[int]
	}{
		{"unknown soc", func(s *model.InputState) { s.BatterySOC = model.None[float64]() }, model.None[int]()},
		{"unknown min soc", func(s *model.InputState) { s.BatteryMinSOC = model.None[float64]() }, model.None[int]()},
		{"unknown grid", func(s *model.InputState) { s.GridPower = model.None[float64]() }, model.Some(MinBatteryChargePower)},
		{"above minimum", func(s *model.InputState) { s.BatterySOC = model.Some(20.0) }, model.Some(MaxBatteryChargePower)},
		{"headroom from grid", func(s *model.InputState) {}, model.Some(6220)},
		{"rounded", func(s *model.InputState) { s.BatteryPower = model.Some(100.4) }, model.Some(5820)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := model.InputState{
				GridPower:     model.Some(1000.0),
				BatteryMinSOC: model.Some(20.0),
				BatterySOC:    model.Some(10.0),
				BatteryPower:  model.Some(500.0),
				ChargeMode:    model.NewPerLocation(model.ModeOff, model.ModeOff),
				HourOfDay:     12,
			}
			tt.edit(&s)
			assert.Equal(t, tt.want, Calculate(s).BatteryChargePower)
		})
	}
}

func TestCalculateBatteryAccountsForWallboxIncrease(t *testing.T) {
	s := model.InputState{
		GridPower:     model.Some(1000.0),
		BatteryMinSOC: model.Some(20.0),
		BatterySOC:    model.Some(10.0),
		BatteryPower:  model.Some(500.0),
		ChargeMode:    model.NewPerLocation(model.ModeOn, model.ModeOff),
		HourOfDay:     12,
	}
	res := Calculate(s)
	// 2 (battery) + 28 - 4 (grid) capped at the inside maximum
	requireAmps(t, 18, res.InsideAmps)
	requireAmps(t, 0, res.OutsideAmps)
	// 500 + (28-18)*240 - 1000
	requireAmps(t, 1900, res.BatteryChargePower)
}

func TestCalculateMaximumPossible(t *testing.T) {
	s := sunnyState()
	s.GridPower = model.Some(1200.0)
	s.ChargeMode = model.NewPerLocation(model.ModeOn, model.ModeOn)

	res := Calculate(s)
	requireAmps(t, 18, res.InsideAmps)
	// 28 - 18 (primary increase) - 5 (grid) is below the minimum charge current
	requireAmps(t, 0, res.OutsideAmps)
	assert.False(t, res.NewPrimaryLocation.IsSet())
}

func TestCalculateMaximumPossibleUnknownGrid(t *testing.T) {
	s := sunnyState()
	s.GridPower = model.None[float64]()
	s.WallboxPower = model.NewPerLocation(model.Some(2400.0), model.Some(0.0))
	s.ChargeMode = model.NewPerLocation(model.ModeOn, model.ModeOff)

	res := Calculate(s)
	// only the current draw is kept when the grid is unknown
	requireAmps(t, 10, res.InsideAmps)
	requireAmps(t, MinBatteryChargePower, res.BatteryChargePower)
}

func TestCalculateOutsidePrimary(t *testing.T) {
	s := sunnyState()
	s.PrimaryLocation = model.Some(model.Outside)
	s.ChargeMode = model.NewPerLocation(model.ModeOn, model.ModeOn)

	res := Calculate(s)
	requireAmps(t, 28, res.OutsideAmps)
	requireAmps(t, 0, res.InsideAmps)
}

func TestCalculateInvalidPrimaryFallsBackToInside(t *testing.T) {
	s := sunnyState()
	s.ChargeMode = model.NewPerLocation(model.ModeOn, model.ModeOn)
	want := Calculate(s)

	s.PrimaryLocation = model.Some(model.Location(3))
	var got model.Targets
	require.NotPanics(t, func() { got = Calculate(s) })
	assert.Equal(t, want, got)
}

func TestCalculateSecondaryDoesNotDoubleCount(t *testing.T) {
	s := sunnyState()
	s.BatteryPower = model.Some(2400.0)

	res := Calculate(s)
	requireAmps(t, 10, res.InsideAmps)
	requireAmps(t, 0, res.OutsideAmps)
}

func TestCalculateSecondaryUsesMeasuredPrimary(t *testing.T) {
	s := sunnyState()
	s.BatteryPower = model.Some(2400.0)
	// inside already draws its target, so nothing extra is reserved
	s.WallboxPower = model.NewPerLocation(model.Some(2400.0), model.Some(0.0))

	res := Calculate(s)
	requireAmps(t, 18, res.InsideAmps)
	requireAmps(t, 10, res.OutsideAmps)
}

func TestCalculateBatteryFullBump(t *testing.T) {
	s := sunnyState()
	s.BatterySOC = model.Some(96.0)

	res := Calculate(s)
	requireAmps(t, BatteryFullBumpAmps, res.InsideAmps)
	requireAmps(t, 0, res.OutsideAmps)
}

func TestCalculateExcessSunConditions(t *testing.T) {
	tests := []struct {
		name string
		edit func(*model.InputState)
	}{
		{"no sun", func(s *model.InputState) { s.PVInverterPower = model.Some(150.0) }},
		{"unknown pv", func(s *model.InputState) { s.PVInverterPower = model.None[float64]() }},
		{"soc near minimum", func(s *model.InputState) { s.BatterySOC = model.Some(21.0) }},
		{"unknown soc", func(s *model.InputState) { s.BatterySOC = model.None[float64]() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sunnyState()
			s.BatteryPower = model.Some(2400.0)
			tt.edit(&s)
			res := Calculate(s)
			requireAmps(t, 0, res.InsideAmps)
			requireAmps(t, 0, res.OutsideAmps)
			assert.False(t, res.NewPrimaryLocation.IsSet())
		})
	}
}

func TestCalculateOffIsZero(t *testing.T) {
	s := sunnyState()
	s.ChargeMode = model.NewPerLocation(model.ModeOff, model.ModeOn)
	res := Calculate(s)
	requireAmps(t, 0, res.InsideAmps)
	loc, ok := res.NewPrimaryLocation.Get()
	require.True(t, ok)
	assert.Equal(t, model.Outside, loc)
}

func TestCalculateManualIsNoAction(t *testing.T) {
	s := sunnyState()
	s.ChargeMode = model.NewPerLocation(model.ModeManual, model.ModeOff)
	res := Calculate(s)
	assert.False(t, res.InsideAmps.IsSet())
	requireAmps(t, 0, res.OutsideAmps)
	assert.False(t, res.NewPrimaryLocation.IsSet())
}

func TestCalculateNonChargeableStatusConcedes(t *testing.T) {
	for _, st := range []model.ChargerStatus{
		model.StatusDisconnected,
		model.StatusCharged,
		model.StatusChargingLimit,
		model.StatusStopCharging,
	} {
		t.Run(st.String(), func(t *testing.T) {
			s := sunnyState()
			s.BatteryPower = model.Some(2400.0)
			s.ChargeMode = model.NewPerLocation(model.ModeOn, model.ModeSunOnly)
			s.WallboxStatus.Set(model.Inside, model.Some(st))

			res := Calculate(s)
			requireAmps(t, 0, res.InsideAmps)
			requireAmps(t, 10, res.OutsideAmps)
			loc, ok := res.NewPrimaryLocation.Get()
			require.True(t, ok)
			assert.Equal(t, model.Outside, loc)
		})
	}
}

func TestCalculateUnknownStatusCanCharge(t *testing.T) {
	s := sunnyState()
	s.BatteryPower = model.Some(2400.0)
	s.WallboxStatus = model.PerLocation[model.Optional[model.ChargerStatus]]{}
	res := Calculate(s)
	requireAmps(t, 10, res.InsideAmps)
}

func TestModeToKind(t *testing.T) {
	tests := []struct {
		name string
		mode model.ChargeMode
		hour int
		soc  float64
		want targetKind
	}{
		{"on", model.ModeOn, 12, 50, kindMaximumPossible},
		{"night off-peak", model.ModeNight, 23, 50, kindMaximumPossible},
		{"night early morning", model.ModeNight, 7, 50, kindMaximumPossible},
		{"night peak", model.ModeNight, 8, 50, kindExcessSun},
		{"night evening peak", model.ModeNight, 21, 50, kindExcessSun},
		{"ess enough soc at 23h", model.ModeESSOnly, 23, 39, kindMaximumPossible},
		{"ess short of margin at 23h", model.ModeESSOnly, 23, 38, kindExcessSun},
		{"ess at 3h", model.ModeESSOnly, 3, 31, kindMaximumPossible},
		{"ess peak", model.ModeESSOnly, 12, 90, kindExcessSun},
		{"sun only", model.ModeSunOnly, 23, 50, kindExcessSun},
		{"off", model.ModeOff, 12, 50, kindZero},
		{"manual", model.ModeManual, 12, 50, kindNoAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := model.InputState{
				BatteryMinSOC: model.Some(20.0),
				BatterySOC:    model.Some(tt.soc),
				ChargeMode:    model.NewPerLocation(tt.mode, tt.mode),
				HourOfDay:     tt.hour,
			}
			assert.Equal(t, tt.want, modeToKind(s, model.Inside))
		})
	}
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, model.Some(0), coerce(model.Inside, model.Some(6)))
	assert.Equal(t, model.Some(0), coerce(model.Inside, model.Some(-12)))
	assert.Equal(t, model.Some(7), coerce(model.Inside, model.Some(7)))
	assert.Equal(t, model.Some(18), coerce(model.Inside, model.Some(25)))
	assert.Equal(t, model.Some(25), coerce(model.Outside, model.Some(25)))
	assert.Equal(t, model.Some(32), coerce(model.Outside, model.Some(40)))
	assert.False(t, coerce(model.Outside, model.None[int]()).IsSet())
}

func TestPowerToAmps(t *testing.T) {
	assert.Equal(t, 10, PowerToAmps(2300))
	assert.Equal(t, 10, PowerToAmps(2400))
	assert.Equal(t, 3, PowerToAmps(600))
	assert.Equal(t, -2, PowerToAmps(-600))
	assert.Equal(t, -5, PowerToAmps(-1200))
	assert.Equal(t, 6720.0, AmpsToPower(MaxGridAmps))
}

func randomOptional(r *rand.Rand, lo, hi float64) model.Optional[float64] {
	if r.Intn(5) == 0 {
		return model.None[float64]()
	}
	return model.Some(lo + r.Float64()*(hi-lo))
}

func randomState(r *rand.Rand) model.InputState {
	statuses := []model.ChargerStatus{
		model.StatusDisconnected, model.StatusConnected, model.StatusCharging,
		model.StatusCharged, model.StatusWaitingForStart, model.StatusChargingLimit,
		model.StatusStopCharging, model.StatusLowSOC,
	}
	var s model.InputState
	if r.Intn(2) == 0 {
		s.PrimaryLocation = model.Some(model.Location(r.Intn(2)))
	}
	s.GridPower = randomOptional(r, -8000, 12000)
	s.BatteryMinSOC = randomOptional(r, 0, 100)
	s.BatterySOC = randomOptional(r, 0, 100)
	s.BatteryPower = randomOptional(r, -6000, 6000)
	s.PVInverterPower = randomOptional(r, 0, 6000)
	for _, l := range model.Locations {
		s.WallboxPower.Set(l, randomOptional(r, 0, 8000))
		s.WallboxStatus.Set(l, model.Some(statuses[r.Intn(len(statuses))]))
		s.ChargeMode.Set(l, model.ChargeMode(r.Intn(6)))
	}
	s.HourOfDay = r.Intn(24)
	return s
}

func TestCalculateInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		s := randomState(r)
		require.NoError(t, s.Validate())
		res := Calculate(s)

		for _, l := range model.Locations {
			if a, ok := res.Amps(l).Get(); ok {
				require.GreaterOrEqual(t, a, 0)
				require.LessOrEqual(t, a, MaxAmps.Get(l))
				if a != 0 {
					require.GreaterOrEqual(t, a, MinChargeAmps)
				}
			}
		}
		if s.ChargeMode.Get(model.Inside) == model.ModeOff {
			require.Equal(t, model.Some(0), res.InsideAmps)
		}
		if p, ok := res.BatteryChargePower.Get(); ok {
			require.GreaterOrEqual(t, p, MinBatteryChargePower)
			require.LessOrEqual(t, p, MaxBatteryChargePower)
		}
		if loc, ok := res.NewPrimaryLocation.Get(); ok {
			require.Equal(t, s.Primary().Other(), loc)
			require.NotEqual(t, model.ModeManual, s.ChargeMode.Get(loc))
			require.NotEqual(t, model.ModeOff, s.ChargeMode.Get(loc))
		}

		require.Equal(t, res, Calculate(s), "calculation must be deterministic")
	}
}
