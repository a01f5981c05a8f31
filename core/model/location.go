package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Location identifies one of the two charging points.
type Location int

const (
	Inside Location = iota
	Outside
)

// Locations lists every location in allocation-independent order.
var Locations = [...]Location{Inside, Outside}

// Valid reports whether l is a known location.
func (l Location) Valid() bool { return l == Inside || l == Outside }

// Other returns the opposite location.
func (l Location) Other() Location {
	if l == Inside {
		return Outside
	}
	return Inside
}

// String returns a human-readable representation of the location.
func (l Location) String() string {
	switch l {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	default:
		return "unknown"
	}
}

// ParseLocation accepts "inside"/"outside" in any case.
func ParseLocation(s string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inside":
		return Inside, nil
	case "outside":
		return Outside, nil
	default:
		return 0, fmt.Errorf("unknown location %q", s)
	}
}

// MarshalJSON encodes the location by name.
func (l Location) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// UnmarshalJSON accepts the location name.
func (l *Location) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseLocation(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// PerLocation stores one value for each location.
type PerLocation[T any] [2]T

// NewPerLocation builds a PerLocation from explicit inside and outside values.
func NewPerLocation[T any](inside, outside T) PerLocation[T] {
	return PerLocation[T]{inside, outside}
}

// Get returns the value for l. It panics on an invalid location.
func (p PerLocation[T]) Get(l Location) T {
	if !l.Valid() {
		panic(fmt.Sprintf("invalid location %d", l))
	}
	return p[l]
}

// Set stores v for l. It panics on an invalid location.
func (p *PerLocation[T]) Set(l Location, v T) {
	if !l.Valid() {
		panic(fmt.Sprintf("invalid location %d", l))
	}
	p[l] = v
}

// MarshalJSON encodes the values keyed by location name.
func (p PerLocation[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]T{
		Inside.String():  p[Inside],
		Outside.String(): p[Outside],
	})
}

// UnmarshalJSON decodes an object keyed by location name. Missing keys keep
// the zero value.
func (p *PerLocation[T]) UnmarshalJSON(data []byte) error {
	var m map[string]T
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, v := range m {
		l, err := ParseLocation(k)
		if err != nil {
			return err
		}
		p[l] = v
	}
	return nil
}
