package model

import "time"

// CycleClass separates cycles that recover a real temperature deficit from
// cycles that merely hold a reached setpoint. Maintenance cycles carry no
// usable heating-rate information; feeding them into the learner was a
// recurring source of silent learning corruption, so classification is a
// standalone computation with its own tests.
type CycleClass string

const (
	CycleRecovery    CycleClass = "recovery"
	CycleMaintenance CycleClass = "maintenance"
)

// recoveryDeltaThreshold is the minimum starting deficit for a cycle to
// count as recovery rather than setpoint holding.
const recoveryDeltaThreshold = 0.5

// ClassifyCycle determines the cycle class from the starting delta. A
// missing delta always means maintenance: without a recorded deficit the
// cycle cannot be trusted as a recovery measurement.
func ClassifyCycle(startingDelta *float64) CycleClass {
	if startingDelta == nil {
		return CycleMaintenance
	}
	d := *startingDelta
	if d < 0 {
		d = -d
	}
	if d < recoveryDeltaThreshold {
		return CycleMaintenance
	}
	return CycleRecovery
}

// CycleRecord is the immutable performance summary of one finalized
// heating or cooling cycle. It is the only interface between the cycle
// tracker and the tuner/learner.
type CycleRecord struct {
	Mode Mode `json:"mode"`

	// Overshoot is the maximum excursion past the setpoint during the
	// settling phase, measured from the setpoint-crossing instant.
	Overshoot float64 `json:"overshoot"`

	// ControllableOvershoot is the share of overshoot accumulated after
	// demand ended; CommittedOvershoot is the share already in transit
	// through the emitter when demand stopped. The tuner only acts on
	// the controllable part.
	ControllableOvershoot float64 `json:"controllable_overshoot"`
	CommittedOvershoot    float64 `json:"committed_overshoot"`

	Undershoot   float64       `json:"undershoot"`
	Oscillations int           `json:"oscillations"`
	SettlingTime time.Duration `json:"settling_time"`

	// RiseTime is nil when the tolerance band was never reached.
	RiseTime *time.Duration `json:"rise_time,omitempty"`

	// StartingDelta is nil when the cycle began with the zone already at
	// setpoint.
	StartingDelta *float64 `json:"starting_delta,omitempty"`

	// OutdoorTemp is the outdoor snapshot the zone stamps on the record
	// before forwarding it; nil when no outdoor feed is configured. The
	// slow-response tuning rule correlates it with cycle performance.
	OutdoorTemp *float64 `json:"outdoor_temp,omitempty"`

	Class CycleClass `json:"class"`

	// Disturbed marks cycles influenced by an external disturbance
	// (contact blip, sustained outdoor swing) whose metrics should carry
	// reduced weight.
	Disturbed bool `json:"disturbed"`

	// WasClamped records whether the controller output saturated at any
	// point during the cycle.
	WasClamped bool `json:"was_clamped"`

	CompletedAt time.Time `json:"completed_at"`
}

// CycleHistoryCap bounds the per-mode cycle record history.
const CycleHistoryCap = 100
