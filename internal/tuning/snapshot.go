package tuning

import (
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

// State is the serializable tuner state embedded in zone snapshots.
type State struct {
	Gains    model.Gains `json:"gains"`
	Baseline model.Gains `json:"baseline"`

	Confidence map[model.Mode]float64             `json:"confidence"`
	History    map[model.Mode][]model.CycleRecord `json:"history"`
	LastDecay  time.Time                          `json:"last_decay"`

	LastAdjustAt      time.Time `json:"last_adjust_at"`
	HasAdjusted       bool      `json:"has_adjusted"`
	CyclesSinceAdjust int       `json:"cycles_since_adjust"`

	ChangeLog         []model.GainChange `json:"change_log"`
	AutoApplies       int                `json:"auto_applies"`
	RecentAutoApplies []time.Time        `json:"recent_auto_applies"`

	OutdoorShiftAt  time.Time `json:"outdoor_shift_at"`
	HasOutdoorShift bool      `json:"has_outdoor_shift"`

	Validation *validationState `json:"validation,omitempty"`
}

// Snapshot captures the full tuner state.
func (t *Tuner) Snapshot() State {
	history := make(map[model.Mode][]model.CycleRecord, len(t.history))
	for mode, h := range t.history {
		history[mode] = h.Items()
	}
	confidence := make(map[model.Mode]float64, len(t.confidence))
	for mode, c := range t.confidence {
		confidence[mode] = c
	}
	return State{
		Gains:             t.gains,
		Baseline:          t.baseline,
		Confidence:        confidence,
		History:           history,
		LastDecay:         t.lastDecay,
		LastAdjustAt:      t.lastAdjustAt,
		HasAdjusted:       t.hasAdjusted,
		CyclesSinceAdjust: t.cyclesSinceAdjust,
		ChangeLog:         t.changeLog.Items(),
		AutoApplies:       t.autoApplies,
		RecentAutoApplies: append([]time.Time(nil), t.recentAutoApplies...),
		OutdoorShiftAt:    t.outdoorShiftAt,
		HasOutdoorShift:   t.hasOutdoorShift,
		Validation:        t.validation,
	}
}

// Restore replaces the tuner state with a previously captured snapshot.
// Modes absent from the snapshot come back with empty histories; restore
// never fails.
func (t *Tuner) Restore(s State) {
	t.gains = s.Gains
	t.baseline = s.Baseline
	t.lastDecay = s.LastDecay
	t.lastAdjustAt = s.LastAdjustAt
	t.hasAdjusted = s.HasAdjusted
	t.cyclesSinceAdjust = s.CyclesSinceAdjust
	t.autoApplies = s.AutoApplies
	t.recentAutoApplies = append([]time.Time(nil), s.RecentAutoApplies...)
	t.outdoorShiftAt = s.OutdoorShiftAt
	t.hasOutdoorShift = s.HasOutdoorShift
	t.validation = s.Validation

	for mode := range t.confidence {
		if c, ok := s.Confidence[mode]; ok {
			t.confidence[mode] = c
		}
	}
	for mode, h := range t.history {
		h.FromItems(s.History[mode])
	}
	t.changeLog.FromItems(s.ChangeLog)
}
