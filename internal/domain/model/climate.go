package model

import "fmt"

// Mode is the direction a zone's device drives temperature.
type Mode string

const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
)

func (m Mode) Valid() bool {
	return m == ModeHeat || m == ModeCool
}

func (m Mode) String() string {
	return string(m)
}

// HeatingType identifies the emitter class driving a zone. Tuning
// thresholds, integral decay and fallback heating rates are sized per type.
type HeatingType string

const (
	HeatingRadiator  HeatingType = "radiator"
	HeatingFloor     HeatingType = "floor"
	HeatingForcedAir HeatingType = "forced_air"
	HeatingHeatPump  HeatingType = "heat_pump"
)

func ParseHeatingType(s string) (HeatingType, error) {
	switch HeatingType(s) {
	case HeatingRadiator, HeatingFloor, HeatingForcedAir, HeatingHeatPump:
		return HeatingType(s), nil
	}
	return "", fmt.Errorf("unknown heating type %q", s)
}
