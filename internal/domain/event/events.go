package event

import (
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/google/uuid"
)

// Input events. One logical control loop per zone consumes these; per-zone
// timestamps are assumed monotonic.

// TemperatureSample is one reading from the zone's temperature sensor.
type TemperatureSample struct {
	At    time.Time
	Value float64
}

// CycleStarted signals device demand rising from zero.
type CycleStarted struct {
	At     time.Time
	Mode   model.Mode
	Demand float64
}

// DemandEnded signals device demand returning to zero. The tracker
// debounces it for two duty periods so PWM off-pulses inside one logical
// activation do not fragment the cycle.
type DemandEnded struct {
	At time.Time
}

// SetpointChanged carries a target temperature update.
type SetpointChanged struct {
	At  time.Time
	Old float64
	New float64
}

// ModeChanged carries a heat/cool mode switch.
type ModeChanged struct {
	At  time.Time
	Old model.Mode
	New model.Mode
}

// ContactPaused signals a window/door contact opening; any running cycle is
// aborted without a record.
type ContactPaused struct {
	At time.Time
}

// ContactResumed signals all contacts closed again.
type ContactResumed struct {
	At time.Time
}

// OverrideSet activates a named override condition (humidity, night
// setback, preheat). Contact state travels on the dedicated contact
// events instead.
type OverrideSet struct {
	At   time.Time
	Kind string
}

// OverrideCleared deactivates a named override condition.
type OverrideCleared struct {
	At   time.Time
	Kind string
}

// Output events, emitted synchronously to the host.

// ControlOutput carries one computed demand value for the device.
type ControlOutput struct {
	Zone string
	Duty float64
	At   time.Time
}

// CycleCompleted carries one finalized cycle record. It is the only
// interface between the tracker and the tuner/learner.
type CycleCompleted struct {
	Zone   string
	Record model.CycleRecord
}

// AdjustmentProposed reports a gain change the rule engine wants to make.
type AdjustmentProposed struct {
	Zone   string
	Gains  model.Gains
	Reason string
}

// AdjustmentApplied reports a gain change that took effect.
type AdjustmentApplied struct {
	Zone   string
	Old    model.Gains
	New    model.Gains
	Reason string
	Auto   bool
	At     time.Time
}

// AdjustmentBlocked reports an auto-apply stopped by a safety gate. The
// reason names the gate; no state was mutated.
type AdjustmentBlocked struct {
	Zone   string
	Reason string
}

// RollbackPerformed reports an exact restore of the previous gain set.
type RollbackPerformed struct {
	Zone     string
	Restored model.Gains
	Reason   string
}

// SessionStalled reports a recovery session making no progress.
type SessionStalled struct {
	Zone      string
	SessionID uuid.UUID
}

// UndershootDetected reports a live heating rate well below the learned
// rate for the current conditions.
type UndershootDetected struct {
	Zone     string
	Rate     float64
	Expected float64
}
