// Package soclimit computes and publishes the minimum battery state of
// charge the inverter keeps in reserve overnight.
package soclimit

import (
	"math"

	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/power"
)

const (
	// MorningLimit frees almost the whole battery for the day.
	MorningLimit = 5

	ChargeEfficiency          = 0.95
	MinDaylightConsumptionKWh = 2.0
	MaxDaylightConsumptionKWh = 15.0
	MinSOCPercent             = 30.0
	MaxSOCPercent             = 85.0
	BatteryCapacityKWh        = 40.0

	defaultForecastWh = 1.0
	defaultSOC        = 10.0
)

// Params is the input of the evening computation.
type Params struct {
	// TomorrowWh is tomorrow's solar forecast; unknown or zero counts as 1 Wh.
	TomorrowWh model.Optional[float64]
	// SOC is the current charge; unknown or zero counts as 10%.
	SOC  model.Optional[float64]
	Hour int
}

// Result details the evening computation.
type Result struct {
	Value       int     `json:"value"`
	Target      float64 `json:"target"`
	TomorrowKWh float64 `json:"tomorrow_kwh"`
	RangeMax    float64 `json:"range_max"`
	RangeMin    float64 `json:"range_min"`
	CurrentSOC  float64 `json:"current_soc"`
	Margin      float64 `json:"margin"`
}

// Morning returns the limit applied when the day starts.
func Morning() int { return MorningLimit }

// Evening keeps enough charge to reach the morning off-peak end, unless
// tomorrow's sun will refill the battery anyway. The result always lies
// within MinSOCPercent..MaxSOCPercent.
func Evening(p Params) Result {
	wh := p.TomorrowWh.OrElse(0)
	if wh == 0 {
		wh = defaultForecastWh
	}
	soc := p.SOC.OrElse(0)
	if soc == 0 {
		soc = defaultSOC
	}

	tomorrowKWh := wh * ChargeEfficiency / 1000
	rangeMax := MaxSOCPercent - 100*(tomorrowKWh-MinDaylightConsumptionKWh)/BatteryCapacityKWh
	rangeMin := MinSOCPercent - 100*(tomorrowKWh-MaxDaylightConsumptionKWh)/BatteryCapacityKWh
	margin := float64(2 * ((24 + power.OffPeakEndHour - p.Hour) % 24))

	target := math.Max(
		math.Min(math.Min(math.Max(soc-margin, rangeMin), rangeMax), MaxSOCPercent),
		MinSOCPercent,
	)
	return Result{
		Value:       int(math.Round(target)),
		Target:      target,
		TomorrowKWh: tomorrowKWh,
		RangeMax:    rangeMax,
		RangeMin:    rangeMin,
		CurrentSOC:  soc,
		Margin:      margin,
	}
}
