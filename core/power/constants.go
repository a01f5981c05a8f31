package power

import (
	"math"

	"github.com/kilianp07/hems/core/model"
)

// Electrical limits of the installation.
const (
	SystemVoltage = 240

	MaxGridAmps = 28
	// MinChargeAmps is the lowest current a wallbox can be set to; targets
	// below it are floored to zero.
	MinChargeAmps       = 7
	BatteryFullBumpAmps = 8
	BatteryFullSOC      = 95

	DetectSunMinPVPower = 200

	MinBatteryChargePower = 200
	MaxBatteryChargePower = MaxGridAmps * SystemVoltage

	OffPeakStartHour = 22
	OffPeakEndHour   = 8
)

// Start/stop hysteresis of the command builder.
const (
	MinStopAmps  = 7
	MinStartAmps = 8
	HistorySize  = 3
)

// MaxAmps is the per-location current ceiling.
var MaxAmps = model.NewPerLocation(18, 32)

// PowerToAmps converts watts to amps at SystemVoltage.
func PowerToAmps(p float64) int { return int(roundHalfUp(p / SystemVoltage)) }

// AmpsToPower converts amps to watts at SystemVoltage.
func AmpsToPower(a int) float64 { return float64(a * SystemVoltage) }

// roundHalfUp rounds ties towards positive infinity, so -2.5 becomes -2.
func roundHalfUp(x float64) float64 { return math.Floor(x + 0.5) }

// IsOffPeak reports whether hour is in the [22:00, 08:00) window.
func IsOffPeak(hour int) bool { return hour < OffPeakEndHour || hour >= OffPeakStartHour }
