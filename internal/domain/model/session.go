package model

import (
	"time"

	"github.com/google/uuid"
)

// ObservationSource distinguishes how a rate observation was produced.
// Session observations come from multi-cycle sustained recoveries and are
// trusted over single-activation cycle observations.
type ObservationSource string

const (
	SourceCycle   ObservationSource = "cycle"
	SourceSession ObservationSource = "session"
)

// RateSource is the provenance reported with a heating-rate answer.
type RateSource string

const (
	RateLearnedSession RateSource = "learned_session"
	RateLearnedCycle   RateSource = "learned_cycle"
	RateFallback       RateSource = "fallback"
)

// RateObservation is one banked heating-rate measurement.
type RateObservation struct {
	Rate       float64           `json:"rate"`
	Duration   time.Duration     `json:"duration"`
	Source     ObservationSource `json:"source"`
	Stalled    bool              `json:"stalled"`
	ObservedAt time.Time         `json:"observed_at"`
}

// SessionEndReason explains why a recovery session closed.
type SessionEndReason string

const (
	EndReasonTargetReached SessionEndReason = "target_reached"
	EndReasonStalled       SessionEndReason = "stalled"
	EndReasonTimeout       SessionEndReason = "timeout"
	EndReasonOverride      SessionEndReason = "override"
)

// Session tracks one multi-cycle recovery toward a setpoint. At most one
// session is active per zone at a time.
type Session struct {
	ID          uuid.UUID `json:"id"`
	StartTemp   float64   `json:"start_temp"`
	TargetTemp  float64   `json:"target_temp"`
	OutdoorTemp float64   `json:"outdoor_temp"`
	StartedAt   time.Time `json:"started_at"`

	Cycles            int       `json:"cycles"`
	DutyValues        []float64 `json:"duty_values"`
	LastProgressCycle int       `json:"last_progress_cycle"`
	LastTemp          float64   `json:"last_temp"`

	// NoRiseUpdates counts consecutive updates without a qualifying
	// temperature rise; three in a row mark the session stalled.
	NoRiseUpdates int `json:"no_rise_updates"`
}

// MeanDuty returns the average duty over the session, or zero when no duty
// values were recorded.
func (s *Session) MeanDuty() float64 {
	if len(s.DutyValues) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range s.DutyValues {
		sum += d
	}
	return sum / float64(len(s.DutyValues))
}

// GainChange is one entry of the bounded gain-change log. From is the exact
// gain set in force before the change; rollback restores it verbatim.
type GainChange struct {
	From      Gains     `json:"from"`
	To        Gains     `json:"to"`
	Reason    string    `json:"reason"`
	Auto      bool      `json:"auto"`
	AppliedAt time.Time `json:"applied_at"`
}

// GainChangeLogCap bounds the gain-change log.
const GainChangeLogCap = 20
