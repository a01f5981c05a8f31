package model

import (
	"encoding/json"
	"fmt"
)

// CommandType identifies the device setting a PowerCommand changes.
type CommandType int

const (
	CmdInsideCurrent CommandType = iota
	CmdInsideStartStop
	CmdOutsideCurrent
	CmdOutsideStartStop
	CmdBatteryMaxChargePower
)

// CommandTypes lists all command types in emission order.
var CommandTypes = [...]CommandType{
	CmdInsideCurrent,
	CmdInsideStartStop,
	CmdOutsideCurrent,
	CmdOutsideStartStop,
	CmdBatteryMaxChargePower,
}

// String returns a human-readable representation of the command type.
func (t CommandType) String() string {
	switch t {
	case CmdInsideCurrent:
		return "InsideCurrent"
	case CmdInsideStartStop:
		return "InsideStartStop"
	case CmdOutsideCurrent:
		return "OutsideCurrent"
	case CmdOutsideStartStop:
		return "OutsideStartStop"
	case CmdBatteryMaxChargePower:
		return "BatteryMaxChargePower"
	default:
		return "unknown"
	}
}

// ParseCommandType is the inverse of String.
func ParseCommandType(s string) (CommandType, error) {
	for _, t := range CommandTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown command type %q", s)
}

// CurrentCommand returns the set-current command type for l.
func CurrentCommand(l Location) CommandType {
	if l == Inside {
		return CmdInsideCurrent
	}
	return CmdOutsideCurrent
}

// StartStopCommand returns the start/stop command type for l.
func StartStopCommand(l Location) CommandType {
	if l == Inside {
		return CmdInsideStartStop
	}
	return CmdOutsideStartStop
}

// MarshalJSON encodes the command type by name.
func (t CommandType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// UnmarshalJSON accepts the command type name.
func (t *CommandType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseCommandType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PowerCommand is a single device setting change. Value is amps for current
// commands, 0/1 for start/stop and watts for the battery.
type PowerCommand struct {
	Type  CommandType `json:"type"`
	Value int         `json:"value"`
}

func (c PowerCommand) String() string { return fmt.Sprintf("%s=%d", c.Type, c.Value) }
