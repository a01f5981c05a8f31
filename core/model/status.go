package model

import "strconv"

// ChargerStatus is the state reported by the Victron EV charging station.
type ChargerStatus int

const (
	StatusDisconnected      ChargerStatus = 0
	StatusConnected         ChargerStatus = 1
	StatusCharging          ChargerStatus = 2
	StatusCharged           ChargerStatus = 3
	StatusWaitingForSun     ChargerStatus = 4
	StatusWaitingForRFID    ChargerStatus = 5
	StatusWaitingForStart   ChargerStatus = 6
	StatusLowSOC            ChargerStatus = 7
	StatusChargingLimit     ChargerStatus = 20
	StatusStartCharging     ChargerStatus = 21
	StatusSwitchingTo3Phase ChargerStatus = 22
	StatusSwitchingTo1Phase ChargerStatus = 23
	StatusStopCharging      ChargerStatus = 24
)

var statusNames = map[ChargerStatus]string{
	StatusDisconnected:      "Disconnected",
	StatusConnected:         "Connected",
	StatusCharging:          "Charging",
	StatusCharged:           "Charged",
	StatusWaitingForSun:     "WaitingForSun",
	StatusWaitingForRFID:    "WaitingForRFID",
	StatusWaitingForStart:   "WaitingForStart",
	StatusLowSOC:            "LowSOC",
	StatusChargingLimit:     "ChargingLimit",
	StatusStartCharging:     "StartCharging",
	StatusSwitchingTo3Phase: "SwitchingTo3Phase",
	StatusSwitchingTo1Phase: "SwitchingTo1Phase",
	StatusStopCharging:      "StopCharging",
}

// String returns the status name.
func (s ChargerStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// CanCharge is false for the states in which the station will not deliver
// current whatever the requested mode.
func (s ChargerStatus) CanCharge() bool {
	switch s {
	case StatusDisconnected, StatusCharged, StatusChargingLimit, StatusStopCharging:
		return false
	default:
		return true
	}
}

// AwaitingStart reports whether the station needs an explicit start command.
func (s ChargerStatus) AwaitingStart() bool {
	return s == StatusConnected || s == StatusWaitingForStart
}
