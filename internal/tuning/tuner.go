package tuning

import (
	"log/slog"
	"math"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ringbuf"
)

// Named safety-gate reasons. A blocked auto-apply surfaces exactly one of
// these and mutates nothing.
const (
	BlockLifetimeCap     = "lifetime_cap"
	BlockWindowCap       = "window_cap"
	BlockDriftCap        = "drift_cap"
	BlockOutdoorCooldown = "outdoor_shift_cooldown"
)

// Config carries the tuner's gates and thresholds.
type Config struct {
	Bounds model.GainBounds

	// Hybrid rate gate: an adjustment needs both a minimum wall-clock
	// interval and a minimum cycle count since the previous one.
	MinAdjustInterval time.Duration
	MinCyclesBetween  int

	// Auto-apply safety gates.
	AutoApplyLifetimeCap int
	AutoApplyWindow      time.Duration
	AutoApplyWindowCap   int
	MaxDriftFromBaseline float64
	OutdoorShiftCooldown time.Duration

	// Validation window after an auto-apply.
	ValidationWindow     int
	DegradationThreshold float64

	// ConfidenceDecayTau controls the slow wall-clock decay of
	// confidence between evaluations.
	ConfidenceDecayTau time.Duration
}

// DefaultConfig returns production gate settings.
func DefaultConfig() Config {
	return Config{
		Bounds:               model.DefaultGainBounds(),
		MinAdjustInterval:    12 * time.Hour,
		MinCyclesBetween:     3,
		AutoApplyLifetimeCap: 50,
		AutoApplyWindow:      7 * 24 * time.Hour,
		AutoApplyWindowCap:   5,
		MaxDriftFromBaseline: 1.0,
		OutdoorShiftCooldown: 6 * time.Hour,
		ValidationWindow:     5,
		DegradationThreshold: 0.25,
		ConfidenceDecayTau:   14 * 24 * time.Hour,
	}
}

// Proposal is a zero-or-one gain change the rule engine wants to make.
type Proposal struct {
	Gains      model.Gains
	Rule       string
	Reason     string
	Suppressed []string
}

// RollbackResult reports an automatic rollback triggered by a failed
// validation window.
type RollbackResult struct {
	Restored model.Gains
	Reason   string
}

type validationState struct {
	BaselineScore float64 `json:"baseline_score"`
	ScoreSum      float64 `json:"score_sum"`
	CyclesSeen    int     `json:"cycles_seen"`
	Window        int     `json:"window"`
}

// Tuner is the rule engine converting cycle records into bounded,
// rate-limited, reversible gain adjustments. Not safe for concurrent use;
// the owning zone serializes access.
type Tuner struct {
	cfg     Config
	profile model.Profile
	logger  *slog.Logger

	gains    model.Gains
	baseline model.Gains

	history    map[model.Mode]*ringbuf.Ring[model.CycleRecord]
	confidence map[model.Mode]float64
	lastDecay  time.Time

	lastAdjustAt      time.Time
	hasAdjusted       bool
	cyclesSinceAdjust int

	changeLog         *ringbuf.Ring[model.GainChange]
	autoApplies       int
	recentAutoApplies []time.Time
	outdoorShiftAt    time.Time
	hasOutdoorShift   bool

	validation *validationState
}

// New creates a tuner. The initial gains double as the physics baseline
// that the drift gate measures against.
func New(cfg Config, ht model.HeatingType, initial model.Gains, logger *slog.Logger) *Tuner {
	return &Tuner{
		cfg:     cfg,
		profile: model.ProfileFor(ht),
		logger:  logger.With("component", "tuner"),
		gains:   initial,
		baseline: initial,
		history: map[model.Mode]*ringbuf.Ring[model.CycleRecord]{
			model.ModeHeat: ringbuf.New[model.CycleRecord](model.CycleHistoryCap),
			model.ModeCool: ringbuf.New[model.CycleRecord](model.CycleHistoryCap),
		},
		confidence: map[model.Mode]float64{model.ModeHeat: 0.2, model.ModeCool: 0.2},
		changeLog:  ringbuf.New[model.GainChange](model.GainChangeLogCap),
	}
}

// Gains returns the current gain set.
func (t *Tuner) Gains() model.Gains {
	return t.gains
}

// Confidence returns the tuning confidence for a mode, in [0,1].
func (t *Tuner) Confidence(mode model.Mode) float64 {
	return t.confidence[mode]
}

// CycleCount returns the recorded cycle count for a mode.
func (t *Tuner) CycleCount(mode model.Mode) int {
	h, ok := t.history[mode]
	if !ok {
		return 0
	}
	return h.Len()
}

// NoteOutdoorShift records a large sustained outdoor-temperature shift;
// auto-applies are blocked for the configured cooldown afterwards.
func (t *Tuner) NoteOutdoorShift(now time.Time) {
	t.outdoorShiftAt = now
	t.hasOutdoorShift = true
}

// cycleScore is the composite badness of one cycle; lower is better.
func cycleScore(rec model.CycleRecord) float64 {
	score := rec.ControllableOvershoot + rec.Undershoot +
		0.1*float64(rec.Oscillations) + 0.5*rec.SettlingTime.Hours()
	if rec.RiseTime != nil {
		score += 0.25 * rec.RiseTime.Hours()
	}
	return score
}

// AddCycle folds a finalized record into the per-mode history, updates
// confidence, and advances the post-apply validation window. A non-nil
// result means the validation window failed and gains were rolled back.
func (t *Tuner) AddCycle(rec model.CycleRecord) *RollbackResult {
	t.history[rec.Mode].Append(rec)
	t.cyclesSinceAdjust++

	if t.isPoorCycle(rec) {
		t.bumpConfidence(rec.Mode, -0.10)
	}

	if t.validation == nil {
		return nil
	}
	t.validation.ScoreSum += cycleScore(rec)
	t.validation.CyclesSeen++
	if t.validation.CyclesSeen < t.validation.Window {
		return nil
	}

	mean := t.validation.ScoreSum / float64(t.validation.CyclesSeen)
	baseline := t.validation.BaselineScore
	t.validation = nil

	degraded := mean > baseline*(1+t.cfg.DegradationThreshold)
	if baseline == 0 {
		degraded = mean > t.cfg.DegradationThreshold
	}
	if !degraded {
		t.logger.Debug("validation window passed", "baseline", baseline, "observed", mean)
		return nil
	}

	restored, ok := t.Rollback()
	if !ok {
		return nil
	}
	t.logger.Warn("validation window failed, gains rolled back",
		"baseline", baseline, "observed", mean, "restored", restored.String())
	return &RollbackResult{Restored: restored, Reason: "validation_degraded"}
}

func (t *Tuner) isPoorCycle(rec model.CycleRecord) bool {
	return rec.ControllableOvershoot > 2*t.profile.MaxAvgOvershoot ||
		rec.Undershoot > 2*t.profile.MaxAvgUndershoot ||
		float64(rec.Oscillations) > 2*t.profile.MaxAvgOscillations
}

func (t *Tuner) bumpConfidence(mode model.Mode, delta float64) {
	c := t.confidence[mode] + delta
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	t.confidence[mode] = c
}

// decayConfidence applies the slow wall-clock decay since the previous
// evaluation.
func (t *Tuner) decayConfidence(now time.Time) {
	if t.cfg.ConfidenceDecayTau <= 0 {
		return
	}
	if !t.lastDecay.IsZero() {
		dt := now.Sub(t.lastDecay)
		if dt > 0 {
			f := math.Exp(-dt.Hours() / t.cfg.ConfidenceDecayTau.Hours())
			for mode, c := range t.confidence {
				t.confidence[mode] = c * f
			}
		}
	}
	t.lastDecay = now
}

// windowAverages summarizes the most recent cycles of one mode.
type windowAverages struct {
	overshoot    float64
	undershoot   float64
	oscillations float64
	settling     time.Duration
	rise         time.Duration
	riseSamples  int
	records      []model.CycleRecord
}

func (t *Tuner) averages(mode model.Mode) windowAverages {
	records := t.history[mode].Tail(t.profile.MinCycles)
	var w windowAverages
	w.records = records
	if len(records) == 0 {
		return w
	}
	var settleSum, riseSum time.Duration
	for _, rec := range records {
		w.overshoot += rec.ControllableOvershoot
		w.undershoot += rec.Undershoot
		w.oscillations += float64(rec.Oscillations)
		settleSum += rec.SettlingTime
		if rec.RiseTime != nil {
			riseSum += *rec.RiseTime
			w.riseSamples++
		}
	}
	n := float64(len(records))
	w.overshoot /= n
	w.undershoot /= n
	w.oscillations /= n
	w.settling = settleSum / time.Duration(len(records))
	if w.riseSamples > 0 {
		w.rise = riseSum / time.Duration(w.riseSamples)
	}
	return w
}

func (t *Tuner) isConverged(w windowAverages) bool {
	if w.overshoot > t.profile.MaxAvgOvershoot {
		return false
	}
	if w.undershoot > t.profile.MaxAvgUndershoot {
		return false
	}
	if w.oscillations > t.profile.MaxAvgOscillations {
		return false
	}
	if w.settling > t.profile.MaxAvgSettling {
		return false
	}
	if w.riseSamples > 0 && w.rise > t.profile.MaxAvgRise {
		return false
	}
	return true
}

// Evaluate runs the rule engine over the mode's recent history. A nil
// return means no adjustment: not enough data, converged, or rate-gated.
// It never errors; insufficient data is a normal state, not a failure.
func (t *Tuner) Evaluate(mode model.Mode, now time.Time) *Proposal {
	t.decayConfidence(now)

	if t.history[mode].Len() < t.profile.MinCycles {
		return nil
	}

	w := t.averages(mode)
	if t.isConverged(w) {
		t.bumpConfidence(mode, 0.05)
		return nil
	}

	if t.hasAdjusted {
		if now.Sub(t.lastAdjustAt) < t.cfg.MinAdjustInterval {
			return nil
		}
		if t.cyclesSinceAdjust < t.cfg.MinCyclesBetween {
			return nil
		}
	}

	lr := t.learningRate(mode)
	deltas, suppressed := t.runRules(w, lr)
	if len(deltas) == 0 {
		return nil
	}

	proposed := t.gains
	reason := ""
	rule := ""
	for _, d := range deltas {
		proposed = d.apply(proposed)
		if reason == "" {
			reason = d.reason
			rule = d.rule
		}
	}

	bounded, clamped := proposed.Clamp(t.cfg.Bounds)
	if clamped {
		t.logger.Warn("proposed gains exceeded bounds, clamped",
			"proposed", proposed.String(), "bounded", bounded.String())
	}
	if bounded == t.gains {
		return nil
	}

	return &Proposal{Gains: bounded, Rule: rule, Reason: reason, Suppressed: suppressed}
}

// learningRate maps confidence to an adjustment-size multiplier: low
// confidence converges fast, high confidence moves gently.
func (t *Tuner) learningRate(mode model.Mode) float64 {
	return 1.5 - t.confidence[mode]
}

// Apply commits a proposal. The previous gain set is pushed onto the
// bounded change log so rollback can restore it exactly.
func (t *Tuner) Apply(p *Proposal, now time.Time, auto bool) model.GainChange {
	change := model.GainChange{
		From:      t.gains,
		To:        p.Gains,
		Reason:    p.Reason,
		Auto:      auto,
		AppliedAt: now,
	}
	t.changeLog.Append(change)
	t.gains = p.Gains
	t.lastAdjustAt = now
	t.hasAdjusted = true
	t.cyclesSinceAdjust = 0
	return change
}

// AutoApply runs the safety gates and applies the proposal only when all
// pass. A false return names the violated gate; nothing was mutated.
func (t *Tuner) AutoApply(p *Proposal, mode model.Mode, now time.Time) (bool, string) {
	if t.autoApplies >= t.cfg.AutoApplyLifetimeCap {
		return false, BlockLifetimeCap
	}
	if t.recentWindowCount(now) >= t.cfg.AutoApplyWindowCap {
		return false, BlockWindowCap
	}
	if p.Gains.Drift(t.baseline) > t.cfg.MaxDriftFromBaseline {
		return false, BlockDriftCap
	}
	if t.hasOutdoorShift && now.Sub(t.outdoorShiftAt) < t.cfg.OutdoorShiftCooldown {
		return false, BlockOutdoorCooldown
	}

	w := t.averages(mode)
	baselineScore := 0.0
	for _, rec := range w.records {
		baselineScore += cycleScore(rec)
	}
	if len(w.records) > 0 {
		baselineScore /= float64(len(w.records))
	}

	t.Apply(p, now, true)
	t.autoApplies++
	t.recentAutoApplies = append(t.recentAutoApplies, now)
	t.validation = &validationState{
		BaselineScore: baselineScore,
		Window:        t.cfg.ValidationWindow,
	}
	return true, ""
}

func (t *Tuner) recentWindowCount(now time.Time) int {
	cutoff := now.Add(-t.cfg.AutoApplyWindow)
	kept := t.recentAutoApplies[:0]
	for _, at := range t.recentAutoApplies {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.recentAutoApplies = kept
	return len(kept)
}

// Rollback restores the gain set recorded before the most recent change,
// exactly as logged. It reports false when the log is empty.
func (t *Tuner) Rollback() (model.Gains, bool) {
	entry, ok := t.changeLog.PopLast()
	if !ok {
		return model.Gains{}, false
	}
	t.gains = entry.From
	t.validation = nil
	return entry.From, true
}

// ChangeLog returns the bounded gain-change log, oldest first.
func (t *Tuner) ChangeLog() []model.GainChange {
	return t.changeLog.Items()
}
