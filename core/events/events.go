package events

import (
	"time"

	"github.com/kilianp07/hems/core/model"
)

// WallSwitchEvent is published for each recognised button press.
type WallSwitchEvent struct {
	ButtonID int
	Presses  int
	Time     time.Time
}

// SetCurrentEvent reports the charge current configured on a wallbox,
// whoever configured it.
type SetCurrentEvent struct {
	Location model.Location
	Amps     float64
	Time     time.Time
}

// ModeChangedEvent is published after a charge mode has been applied.
// Source is "wall_switch", "api", "manual_override" or "startup".
type ModeChangedEvent struct {
	Location model.Location
	Mode     model.ChargeMode
	Source   string
	Time     time.Time
}
