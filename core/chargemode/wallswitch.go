package chargemode

import "github.com/kilianp07/hems/core/model"

// ManualForcingAmps is the current a user dials on a wallbox to take it out
// of automatic control.
const ManualForcingAmps = 6

type press struct {
	button  int
	presses int
}

var pressModes = map[press]model.ChargeMode{
	{0, 1}: model.ModeESSOnly,
	{0, 2}: model.ModeSunOnly,
	{0, 3}: model.ModeOff,
	{1, 1}: model.ModeNight,
	{1, 2}: model.ModeOn,
	{1, 3}: model.ModeManual,
	{2, 1}: model.ModeNight,
	{2, 2}: model.ModeOn,
	{2, 3}: model.ModeManual,
	{3, 1}: model.ModeESSOnly,
	{3, 2}: model.ModeSunOnly,
	{3, 3}: model.ModeOff,
}

// PressCount converts a switch event name into a number of presses.
func PressCount(event string) (int, bool) {
	switch event {
	case "single_push":
		return 1, true
	case "double_push":
		return 2, true
	case "triple_push":
		return 3, true
	default:
		return 0, false
	}
}

// ModeForPress maps a button and press count to the location and mode it
// selects. Buttons 0 and 1 drive the inside wallbox, the others outside.
func ModeForPress(button, presses int) (model.Location, model.ChargeMode, bool) {
	m, ok := pressModes[press{button, presses}]
	if !ok {
		return 0, 0, false
	}
	if button == 0 || button == 1 {
		return model.Inside, m, true
	}
	return model.Outside, m, true
}
