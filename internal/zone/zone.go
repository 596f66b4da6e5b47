package zone

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/control"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/cycle"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/metrics"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ratelearn"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/snapshot"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/tuning"
)

// undershootCheckAfter is how long a recovery session runs before the live
// rate is compared against the learned rate.
const undershootCheckAfter = 15 * time.Minute

// Config describes one zone.
type Config struct {
	ID          string
	HeatingType model.HeatingType
	Mode        model.Mode
	Setpoint    float64
	Gains       model.Gains

	// AutoApply lets the tuner commit its own proposals, subject to the
	// safety gates. When false, proposals wait for AcceptProposal.
	AutoApply bool

	// SetbackOffset lowers the effective setpoint while the night-setback
	// override is the winning one.
	SetbackOffset float64

	// PreheatOffset raises the effective setpoint while the preheat
	// override is the winning one.
	PreheatOffset float64

	MailboxSize int
}

// Zone owns one control loop: controller, tracker, tuner, and learner,
// serialized on a single goroutine fed by the event mailbox. External
// callers never touch the components directly; inputs go through Post and
// results come back through the emit callback and the query surface.
type Zone struct {
	cfg        Config
	trackerCfg cycle.Config
	logger     *slog.Logger
	emit       func(ev any)

	mailbox chan any

	mu         sync.Mutex
	controller *control.Controller
	tracker    *cycle.Tracker
	tuner      *tuning.Tuner
	learner    *ratelearn.Learner
	timers     *mailboxTimers

	mode     model.Mode
	setpoint float64

	overrides map[Override]bool

	hasSample    bool
	lastSampleAt time.Time
	lastTemp     float64
	outdoor      *float64
	wind         *float64
	lastDemand   float64

	undershootFlagged bool
	pendingProposal   *tuning.Proposal
}

// New builds a zone with heating-type-sized component defaults. emit
// receives output events synchronously on the zone goroutine; nil drops
// them.
func New(cfg Config, logger *slog.Logger, emit func(ev any)) *Zone {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	if emit == nil {
		emit = func(any) {}
	}
	z := &Zone{
		cfg:       cfg,
		logger:    logger.With("component", "zone", "zone", cfg.ID),
		emit:      emit,
		mailbox:   make(chan any, cfg.MailboxSize),
		mode:      cfg.Mode,
		setpoint:  cfg.Setpoint,
		overrides: make(map[Override]bool),
	}
	z.timers = newMailboxTimers(z.Post)
	z.controller = control.New(control.DefaultConfig(cfg.HeatingType), cfg.Gains)
	z.trackerCfg = cycle.DefaultConfig(cfg.HeatingType)
	z.tracker = cycle.New(z.trackerCfg, cfg.Mode, cfg.Setpoint, z.timers, z.logger, z.onCycleComplete)
	z.tuner = tuning.New(tuning.DefaultConfig(), cfg.HeatingType, cfg.Gains, z.logger)
	z.learner = ratelearn.New(cfg.HeatingType, z.logger)
	return z
}

// ID returns the zone identifier.
func (z *Zone) ID() string {
	return z.cfg.ID
}

// Post queues an input event for the zone goroutine.
func (z *Zone) Post(ev any) {
	z.mailbox <- ev
}

// Run consumes the mailbox until the context is canceled.
func (z *Zone) Run(ctx context.Context) error {
	defer func() {
		z.mu.Lock()
		z.timers.stopAll()
		z.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-z.mailbox:
			z.Dispatch(ev)
		}
	}
}

// Dispatch handles one event synchronously. Run calls it from the zone
// goroutine; tests may call it directly.
func (z *Zone) Dispatch(ev any) {
	z.mu.Lock()
	defer z.mu.Unlock()

	switch e := ev.(type) {
	case event.TemperatureSample:
		z.handleSample(e)
	case event.CycleStarted:
		z.lastDemand = e.Demand
		z.tracker.OnCycleStarted(e)
	case event.DemandEnded:
		z.lastDemand = 0
		z.tracker.OnDemandEnded(e)
	case event.SetpointChanged:
		z.handleSetpoint(e)
	case event.ModeChanged:
		z.handleModeChange(e)
	case event.ContactPaused:
		z.overrides[OverrideContact] = true
		z.tracker.OnContactPaused(e)
		z.endSession(model.EndReasonOverride, e.At)
	case event.ContactResumed:
		z.overrides[OverrideContact] = false
		z.tracker.OnContactResumed(e)
	case event.OverrideSet:
		z.handleOverrideSet(e)
	case event.OverrideCleared:
		if o, ok := ParseOverride(e.Kind); ok {
			z.overrides[o] = false
		}
	case deadlineFired:
		z.tracker.HandleDeadline(e.kind, e.at)
	default:
		z.logger.Warn("unhandled event type", "event", ev)
	}
}

func (z *Zone) handleOverrideSet(e event.OverrideSet) {
	o, ok := ParseOverride(e.Kind)
	if !ok {
		z.logger.Warn("unknown override kind", "kind", e.Kind)
		return
	}
	z.overrides[o] = true
	if st := z.tracker.State(); st != cycle.StateIdle {
		z.tracker.NoteDisturbance()
	}
	if o.pauses() {
		z.endSession(model.EndReasonOverride, e.At)
	}
}

// effectiveSetpoint applies the winning override's setpoint effect.
func (z *Zone) effectiveSetpoint() float64 {
	switch Winner(z.overrides) {
	case OverrideNightSetback:
		return z.setpoint - z.cfg.SetbackOffset
	case OverridePreheat:
		return z.setpoint + z.cfg.PreheatOffset
	default:
		return z.setpoint
	}
}

func (z *Zone) handleSample(e event.TemperatureSample) {
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		z.logger.Warn("dropping non-finite temperature sample")
		return
	}

	duty := z.tick(e)
	z.emit(event.ControlOutput{Zone: z.cfg.ID, Duty: duty, At: e.At})
	metrics.ControllerTicksTotal.WithLabelValues(z.cfg.ID).Inc()
	metrics.ControllerOutput.WithLabelValues(z.cfg.ID).Set(duty)
	metrics.ZoneTemperature.WithLabelValues(z.cfg.ID).Set(e.Value)
	metrics.ZoneSetpoint.WithLabelValues(z.cfg.ID).Set(z.effectiveSetpoint())

	z.lastTemp = e.Value
	z.lastSampleAt = e.At
	z.hasSample = true

	z.tracker.OnSample(e)
	z.updateSession(e)
}

// tick runs one controller step and returns the duty to publish. A pausing
// override forces zero demand but the controller still integrates so the
// resume is bumpless in the other direction.
func (z *Zone) tick(e event.TemperatureSample) float64 {
	var dt time.Duration
	if z.hasSample {
		dt = e.At.Sub(z.lastSampleAt)
	}
	out, err := z.controller.Calc(control.Input{
		Measurement: e.Value,
		Setpoint:    z.effectiveSetpoint(),
		Dt:          dt,
		OutdoorTemp: z.outdoor,
		WindSpeed:   z.wind,
	})
	if err != nil {
		if errors.Is(err, control.ErrInvalidInput) {
			z.logger.Warn("controller rejected input, holding last output")
		} else {
			z.logger.Error("controller step failed", "error", err)
		}
		metrics.ControllerInvalidInputsTotal.WithLabelValues(z.cfg.ID).Inc()
		out = z.controller.LastOutput()
	}
	if z.controller.TakeClamped() {
		metrics.ControllerSaturatedTotal.WithLabelValues(z.cfg.ID).Inc()
		if z.tracker.State() != cycle.StateIdle {
			z.tracker.NoteClamped()
		}
	}
	if Winner(z.overrides).pauses() {
		return 0
	}
	return out
}

// SetOutdoor updates the outdoor conditions used by feed-forward and the
// rate learner. Large sustained shifts arm the tuner's outdoor cooldown.
func (z *Zone) SetOutdoor(temp float64, wind *float64, now time.Time) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if math.IsNaN(temp) || math.IsInf(temp, 0) {
		return
	}
	if z.outdoor != nil && math.Abs(temp-*z.outdoor) >= 5.0 {
		z.tuner.NoteOutdoorShift(now)
	}
	t := temp
	z.outdoor = &t
	z.wind = wind
}

func (z *Zone) handleSetpoint(e event.SetpointChanged) {
	z.setpoint = e.New
	z.tracker.OnSetpointChanged(e)
	z.endSession(model.EndReasonOverride, e.At)
	z.maybeStartSession(e.New, e.At)
}

// maybeStartSession opens a recovery session when the new target sits a
// recovery-grade delta above the current temperature.
func (z *Zone) maybeStartSession(target float64, now time.Time) {
	if z.mode != model.ModeHeat || !z.hasSample || z.outdoor == nil {
		return
	}
	delta := target - z.lastTemp
	if model.ClassifyCycle(&delta) != model.CycleRecovery {
		return
	}
	if _, err := z.learner.StartSession(z.lastTemp, target, *z.outdoor, now); err != nil {
		z.logger.Warn("recovery session not started", "error", err)
		return
	}
	z.undershootFlagged = false
}

func (z *Zone) updateSession(e event.TemperatureSample) {
	sess := z.learner.ActiveSession()
	if sess == nil {
		return
	}

	if e.Value >= sess.TargetTemp-z.trackerCfg.Tolerance {
		z.endSession(model.EndReasonTargetReached, e.At)
		return
	}

	stalled, err := z.learner.UpdateSession(e.Value, z.lastDemand, e.At)
	if err != nil {
		z.logger.Warn("session update failed", "error", err)
		return
	}
	if stalled {
		metrics.SessionsStalledTotal.WithLabelValues(z.cfg.ID).Inc()
		z.emit(event.SessionStalled{Zone: z.cfg.ID, SessionID: sess.ID})
		z.endSession(model.EndReasonStalled, e.At)
		return
	}

	z.checkUndershoot(sess, e)
}

func (z *Zone) checkUndershoot(sess *model.Session, e event.TemperatureSample) {
	if z.undershootFlagged || z.outdoor == nil {
		return
	}
	elapsed := e.At.Sub(sess.StartedAt)
	if elapsed < undershootCheckAfter {
		return
	}
	live := (e.Value - sess.StartTemp) / elapsed.Hours()
	delta := sess.TargetTemp - sess.StartTemp
	if !z.learner.IsUnderperforming(live, delta, *z.outdoor) {
		return
	}
	expected, _ := z.learner.HeatingRate(delta, *z.outdoor)
	z.undershootFlagged = true
	metrics.UndershootDetectedTotal.WithLabelValues(z.cfg.ID).Inc()
	z.emit(event.UndershootDetected{Zone: z.cfg.ID, Rate: live, Expected: expected})
}

func (z *Zone) endSession(reason model.SessionEndReason, now time.Time) {
	if z.learner.ActiveSession() == nil {
		return
	}
	if _, err := z.learner.EndSession(z.lastTemp, reason, now); err != nil {
		z.logger.Warn("session end failed", "error", err)
		return
	}
	if z.learner.RecommendIntegralBoost() {
		z.logger.Info("integral boost recommended",
			"consecutive_stalls", z.learner.ConsecutiveStalls())
	}
}

func (z *Zone) handleModeChange(e event.ModeChanged) {
	z.mode = e.New
	z.tracker.OnModeChanged(e)
	z.endSession(model.EndReasonOverride, e.At)
}

// onCycleComplete is the tracker callback; it runs on the zone goroutine
// with the state lock held.
func (z *Zone) onCycleComplete(rec model.CycleRecord) {
	if z.outdoor != nil {
		out := *z.outdoor
		rec.OutdoorTemp = &out
	}
	z.emit(event.CycleCompleted{Zone: z.cfg.ID, Record: rec})
	modeLabel := rec.Mode.String()
	metrics.CyclesCompletedTotal.WithLabelValues(z.cfg.ID, modeLabel, string(rec.Class)).Inc()
	metrics.CycleOvershoot.WithLabelValues(z.cfg.ID, modeLabel).Observe(rec.Overshoot)
	metrics.CycleSettlingSeconds.WithLabelValues(z.cfg.ID, modeLabel).Observe(rec.SettlingTime.Seconds())
	metrics.CycleOscillations.WithLabelValues(z.cfg.ID, modeLabel).Observe(float64(rec.Oscillations))

	z.bankCycleRate(rec)

	if res := z.tuner.AddCycle(rec); res != nil {
		z.controller.SetGains(res.Restored)
		metrics.TunerRollbacksTotal.WithLabelValues(z.cfg.ID).Inc()
		z.emit(event.RollbackPerformed{Zone: z.cfg.ID, Restored: res.Restored, Reason: res.Reason})
	}
	metrics.TunerConfidence.WithLabelValues(z.cfg.ID, modeLabel).Set(z.tuner.Confidence(rec.Mode))

	p := z.tuner.Evaluate(rec.Mode, rec.CompletedAt)
	if p == nil {
		return
	}
	z.emit(event.AdjustmentProposed{Zone: z.cfg.ID, Gains: p.Gains, Reason: p.Reason})

	if !z.cfg.AutoApply {
		z.pendingProposal = p
		return
	}

	old := z.tuner.Gains()
	ok, reason := z.tuner.AutoApply(p, rec.Mode, rec.CompletedAt)
	if !ok {
		metrics.TunerBlockedTotal.WithLabelValues(z.cfg.ID, reason).Inc()
		z.emit(event.AdjustmentBlocked{Zone: z.cfg.ID, Reason: reason})
		return
	}
	z.controller.SetGains(z.tuner.Gains())
	metrics.TunerAdjustmentsTotal.WithLabelValues(z.cfg.ID, "true").Inc()
	z.emit(event.AdjustmentApplied{
		Zone: z.cfg.ID, Old: old, New: z.tuner.Gains(),
		Reason: p.Reason, Auto: true, At: rec.CompletedAt,
	})
}

// bankCycleRate feeds a recovery cycle's achieved rise rate to the learner
// as a lower-confidence cycle observation.
func (z *Zone) bankCycleRate(rec model.CycleRecord) {
	if rec.Mode != model.ModeHeat || rec.Class != model.CycleRecovery {
		return
	}
	if rec.RiseTime == nil || rec.StartingDelta == nil || rec.OutdoorTemp == nil {
		return
	}
	rise := *rec.RiseTime
	delta := *rec.StartingDelta
	if rise <= 0 || delta <= 0 {
		return
	}
	rate := delta / rise.Hours()
	z.learner.ObserveCycle(delta, *rec.OutdoorTemp, rate, rise, rec.CompletedAt)
}

// AcceptProposal commits the pending manual proposal, if any.
func (z *Zone) AcceptProposal(now time.Time) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.pendingProposal == nil {
		return false
	}
	p := z.pendingProposal
	z.pendingProposal = nil
	old := z.tuner.Gains()
	z.tuner.Apply(p, now, false)
	z.controller.SetGains(p.Gains)
	metrics.TunerAdjustmentsTotal.WithLabelValues(z.cfg.ID, "false").Inc()
	z.emit(event.AdjustmentApplied{
		Zone: z.cfg.ID, Old: old, New: p.Gains,
		Reason: p.Reason, Auto: false, At: now,
	})
	return true
}

// Query surface. Each call takes the zone lock; none touch I/O.

func (z *Zone) Gains() model.Gains {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.tuner.Gains()
}

func (z *Zone) Confidence(mode model.Mode) float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.tuner.Confidence(mode)
}

func (z *Zone) CycleCount(mode model.Mode) int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.tuner.CycleCount(mode)
}

func (z *Zone) HeatingRate(delta, outdoor float64) (float64, model.RateSource) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.learner.HeatingRate(delta, outdoor)
}

func (z *Zone) IntegralBoostRecommended() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.learner.RecommendIntegralBoost()
}

func (z *Zone) ActiveOverride() Override {
	z.mu.Lock()
	defer z.mu.Unlock()
	return Winner(z.overrides)
}

func (z *Zone) CycleState() cycle.State {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.tracker.State()
}

func (z *Zone) Setpoint() float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.setpoint
}

func (z *Zone) Mode() model.Mode {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.mode
}

// Snapshot captures the zone's persistent state for the store.
func (z *Zone) Snapshot() snapshot.Snapshot {
	z.mu.Lock()
	defer z.mu.Unlock()
	return snapshot.Snapshot{
		Version:  snapshot.CurrentVersion,
		Zone:     z.cfg.ID,
		Mode:     z.mode,
		Setpoint: z.setpoint,
		Control:  z.controller.Snapshot(),
		Tuning:   z.tuner.Snapshot(),
		Rates:    z.learner.Snapshot(),
	}
}

// RestoreSnapshot replaces component state from a persisted snapshot and
// arms bumpless transfer on the controller.
func (z *Zone) RestoreSnapshot(s snapshot.Snapshot) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.mode = s.Mode
	z.setpoint = s.Setpoint
	z.controller.Restore(s.Control)
	z.controller.Activate(s.Control.LastOutput)
	z.tuner.Restore(s.Tuning)
	z.learner.Restore(s.Rates)
	z.controller.SetGains(z.tuner.Gains())
}
