package model

import "time"

// Profile carries the heating-type-specific constants used across the
// tuning and learning pipeline. Values follow the thermal inertia of the
// emitter: floor loops are slow and tolerant, forced air is fast and twitchy.
type Profile struct {
	// MinCycles is the per-mode cycle count required before any tuning
	// rule evaluates.
	MinCycles int

	// IntegralDecay multiplies integral wind-down when the accumulated
	// integral opposes the current error (thermal overhang).
	IntegralDecay float64

	// FallbackRate is the heating rate in degC/hour assumed when no bin
	// has enough observations.
	FallbackRate float64

	// MinSessionDuration below which a recovery session is too short to
	// produce a trustworthy rate observation.
	MinSessionDuration time.Duration

	// CapacityDutyThreshold is the mean session duty above which stalls
	// are attributed to capacity exhaustion rather than weak gains.
	CapacityDutyThreshold float64

	// ThermalTimeConstant drives the settling timeout derivation.
	ThermalTimeConstant time.Duration

	// Convergence thresholds. A zone whose recent cycle averages sit
	// inside all of these needs no adjustment.
	MaxAvgOvershoot    float64
	MaxAvgUndershoot   float64
	MaxAvgOscillations float64
	MaxAvgSettling     time.Duration
	MaxAvgRise         time.Duration
}

var profiles = map[HeatingType]Profile{
	HeatingRadiator: {
		MinCycles:             6,
		IntegralDecay:         2.0,
		FallbackRate:          1.5,
		MinSessionDuration:    30 * time.Minute,
		CapacityDutyThreshold: 0.90,
		ThermalTimeConstant:   90 * time.Minute,
		MaxAvgOvershoot:       0.4,
		MaxAvgUndershoot:      0.3,
		MaxAvgOscillations:    2,
		MaxAvgSettling:        45 * time.Minute,
		MaxAvgRise:            60 * time.Minute,
	},
	HeatingFloor: {
		MinCycles:             8,
		IntegralDecay:         3.0,
		FallbackRate:          0.8,
		MinSessionDuration:    60 * time.Minute,
		CapacityDutyThreshold: 0.95,
		ThermalTimeConstant:   240 * time.Minute,
		MaxAvgOvershoot:       0.6,
		MaxAvgUndershoot:      0.4,
		MaxAvgOscillations:    1,
		MaxAvgSettling:        120 * time.Minute,
		MaxAvgRise:            180 * time.Minute,
	},
	HeatingForcedAir: {
		MinCycles:             6,
		IntegralDecay:         1.5,
		FallbackRate:          3.0,
		MinSessionDuration:    15 * time.Minute,
		CapacityDutyThreshold: 0.85,
		ThermalTimeConstant:   30 * time.Minute,
		MaxAvgOvershoot:       0.3,
		MaxAvgUndershoot:      0.3,
		MaxAvgOscillations:    3,
		MaxAvgSettling:        25 * time.Minute,
		MaxAvgRise:            30 * time.Minute,
	},
	HeatingHeatPump: {
		MinCycles:             6,
		IntegralDecay:         2.0,
		FallbackRate:          1.2,
		MinSessionDuration:    45 * time.Minute,
		CapacityDutyThreshold: 0.92,
		ThermalTimeConstant:   120 * time.Minute,
		MaxAvgOvershoot:       0.4,
		MaxAvgUndershoot:      0.3,
		MaxAvgOscillations:    2,
		MaxAvgSettling:        60 * time.Minute,
		MaxAvgRise:            90 * time.Minute,
	},
}

// ProfileFor returns the constants for the given heating type, falling back
// to the radiator profile for unknown types.
func ProfileFor(ht HeatingType) Profile {
	if p, ok := profiles[ht]; ok {
		return p
	}
	return profiles[HeatingRadiator]
}
