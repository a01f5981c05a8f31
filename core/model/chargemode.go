package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChargeMode is the user-selected charging intent of a location.
type ChargeMode int

const (
	ModeOff ChargeMode = iota
	ModeSunOnly
	ModeESSOnly
	ModeNight
	ModeOn
	ModeManual
)

// DefaultChargeMode applies to locations without a persisted mode.
const DefaultChargeMode = ModeSunOnly

var chargeModeNames = map[ChargeMode]string{
	ModeOff:     "Off",
	ModeSunOnly: "SunOnly",
	ModeESSOnly: "ESSOnly",
	ModeNight:   "Night",
	ModeOn:      "On",
	ModeManual:  "Manual",
}

// Valid reports whether m is a known charge mode.
func (m ChargeMode) Valid() bool {
	_, ok := chargeModeNames[m]
	return ok
}

// String returns the mode name.
func (m ChargeMode) String() string {
	if n, ok := chargeModeNames[m]; ok {
		return n
	}
	return "unknown(" + strconv.Itoa(int(m)) + ")"
}

// ParseChargeMode accepts a mode name (case-insensitive) or its numeric value.
func ParseChargeMode(s string) (ChargeMode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		m := ChargeMode(n)
		if !m.Valid() {
			return 0, fmt.Errorf("unknown charge mode %d", n)
		}
		return m, nil
	}
	for m, name := range chargeModeNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown charge mode %q", s)
}

// MarshalJSON encodes the mode by name.
func (m ChargeMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// UnmarshalJSON accepts either the mode name or its number.
func (m *ChargeMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if nerr := json.Unmarshal(data, &n); nerr != nil {
			return fmt.Errorf("charge mode: %w", err)
		}
		s = strconv.Itoa(n)
	}
	v, err := ParseChargeMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
