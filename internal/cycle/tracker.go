package cycle

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ringbuf"
)

// State names of the cycle machine.
type State string

const (
	StateIdle     State = "idle"
	StateHeating  State = "heating"
	StateCooling  State = "cooling"
	StateSettling State = "settling"
)

// DeadlineKind identifies a scheduled deadline owned by the zone runtime.
// Every transition that obsoletes a pending deadline cancels it; a stale
// timer firing against moved-on state is the classic double-fire bug this
// machine exists to prevent.
type DeadlineKind string

const (
	DeadlineDebounce DeadlineKind = "demand_debounce"
	DeadlineSettle   DeadlineKind = "settling_timeout"
)

// Timers schedules and cancels the tracker's deadlines. The zone runtime
// implements it with cancellable timers and routes expiry back through
// HandleDeadline on the owning goroutine.
type Timers interface {
	Schedule(kind DeadlineKind, at time.Time)
	Cancel(kind DeadlineKind)
}

// Config carries the tracker's thresholds.
type Config struct {
	// DutyPeriod is the device's PWM period; demand-end debounce runs
	// for two of these.
	DutyPeriod time.Duration

	// Tolerance is the band around target inside which the zone counts
	// as settled.
	Tolerance float64

	// MADThreshold is the settling criterion on the median absolute
	// deviation of recent samples.
	MADThreshold float64

	// MADWindow is how many recent samples feed the MAD check.
	MADWindow int

	// OscillationBand is the hysteresis band for oscillation counting;
	// sign changes inside the band are noise, not oscillations.
	OscillationBand float64

	// MinorSetpointDelta is the largest setpoint change that retargets
	// in place instead of aborting.
	MinorSetpointDelta float64

	// ThermalTimeConstant drives the forced-finalization timeout,
	// clamped to [60, 240] minutes.
	ThermalTimeConstant time.Duration

	// SampleBufferCap bounds the per-cycle sample buffer.
	SampleBufferCap int
}

// DefaultConfig sizes the tracker for the heating type.
func DefaultConfig(ht model.HeatingType) Config {
	p := model.ProfileFor(ht)
	return Config{
		DutyPeriod:          15 * time.Minute,
		Tolerance:           0.3,
		MADThreshold:        0.05,
		MADWindow:           10,
		OscillationBand:     0.1,
		MinorSetpointDelta:  0.3,
		ThermalTimeConstant: p.ThermalTimeConstant,
		SampleBufferCap:     720,
	}
}

type sample struct {
	at    time.Time
	value float64
}

// Tracker converts a noisy temperature stream plus device-demand events
// into finalized cycle records. Exactly one CycleCompleted is emitted per
// finalized cycle; aborted cycles emit nothing. Not safe for concurrent
// use; the owning zone serializes all calls.
type Tracker struct {
	cfg        Config
	logger     *slog.Logger
	timers     Timers
	onComplete func(model.CycleRecord)

	state           State
	mode            model.Mode
	target          float64
	demandActive    bool
	debouncePending bool
	contactOpen     bool

	samples    *ringbuf.Ring[sample]
	cycleStart time.Time
	settleStart time.Time

	startingDelta *float64
	crossed       bool
	crossedAt     time.Time
	maxExcursion  float64
	committedExcursion float64
	bestReached   float64
	hasBest       bool
	riseAt        *time.Time
	oscSign       int
	oscCount      int
	disturbed     bool
	clamped       bool

	lastSample    float64
	hasLastSample bool
}

// New creates a tracker. onComplete receives each finalized record
// synchronously.
func New(cfg Config, mode model.Mode, target float64, timers Timers, logger *slog.Logger, onComplete func(model.CycleRecord)) *Tracker {
	if cfg.MADWindow <= 0 {
		cfg.MADWindow = 10
	}
	if cfg.SampleBufferCap <= 0 {
		cfg.SampleBufferCap = 720
	}
	return &Tracker{
		cfg:        cfg,
		logger:     logger.With("component", "cycle_tracker"),
		timers:     timers,
		onComplete: onComplete,
		state:      StateIdle,
		mode:       mode,
		target:     target,
		samples:    ringbuf.New[sample](cfg.SampleBufferCap),
	}
}

// State returns the current machine state.
func (t *Tracker) State() State {
	return t.state
}

// Target returns the current tracked setpoint.
func (t *Tracker) Target() float64 {
	return t.target
}

// NoteDisturbance flags the in-flight cycle as externally disturbed.
func (t *Tracker) NoteDisturbance() {
	if t.state != StateIdle {
		t.disturbed = true
	}
}

// NoteClamped records that the controller output saturated during the
// in-flight cycle.
func (t *Tracker) NoteClamped() {
	if t.state != StateIdle {
		t.clamped = true
	}
}

// OnCycleStarted handles demand rising from zero.
func (t *Tracker) OnCycleStarted(ev event.CycleStarted) {
	if t.contactOpen {
		return
	}

	// Demand resuming inside the debounce window is the same logical
	// cycle: cancel the pending transition and keep tracking.
	if t.debouncePending {
		t.timers.Cancel(DeadlineDebounce)
		t.debouncePending = false
		t.demandActive = true
		return
	}

	switch t.state {
	case StateSettling:
		// New demand cuts settling short; finalize what we have so the
		// record is not lost, then start the new cycle.
		t.finalize(ev.At, "interrupted_by_demand")
		t.begin(ev)
	case StateIdle:
		t.begin(ev)
	case StateHeating, StateCooling:
		// Already active; duplicate start events are no-ops.
		t.demandActive = true
	}
}

func (t *Tracker) begin(ev event.CycleStarted) {
	t.resetCycleState()
	if ev.Mode.Valid() {
		t.mode = ev.Mode
	}
	if t.mode == model.ModeCool {
		t.state = StateCooling
	} else {
		t.state = StateHeating
	}
	t.demandActive = true
	t.cycleStart = ev.At
	if t.hasLastSample {
		delta := t.approachDelta(t.lastSample)
		t.startingDelta = &delta
	}
}

// OnDemandEnded handles demand returning to zero. The settling transition
// is debounced for two duty periods so PWM off-pulses do not fragment one
// logical activation.
func (t *Tracker) OnDemandEnded(ev event.DemandEnded) {
	if t.state != StateHeating && t.state != StateCooling || !t.demandActive {
		return
	}
	t.demandActive = false
	t.debouncePending = true
	t.timers.Schedule(DeadlineDebounce, ev.At.Add(2*t.cfg.DutyPeriod))
}

// HandleDeadline is called by the zone runtime when a scheduled deadline
// fires. Stale deadlines against moved-on state are ignored.
func (t *Tracker) HandleDeadline(kind DeadlineKind, now time.Time) {
	switch kind {
	case DeadlineDebounce:
		if !t.debouncePending {
			return
		}
		t.debouncePending = false
		t.enterSettling(now)
	case DeadlineSettle:
		if t.state != StateSettling {
			return
		}
		t.finalize(now, "settling_timeout")
	}
}

func (t *Tracker) enterSettling(now time.Time) {
	t.state = StateSettling
	t.settleStart = now
	// Excursion already accumulated was committed by heat in transit
	// before the device stopped; the tuner cannot act on it.
	t.committedExcursion = t.maxExcursion
	t.timers.Schedule(DeadlineSettle, now.Add(t.maxSettleDuration()))
}

func (t *Tracker) maxSettleDuration() time.Duration {
	d := t.cfg.ThermalTimeConstant
	if d < 60*time.Minute {
		d = 60 * time.Minute
	}
	if d > 240*time.Minute {
		d = 240 * time.Minute
	}
	return d
}

// OnSample folds one temperature reading into the in-flight cycle.
func (t *Tracker) OnSample(ev event.TemperatureSample) {
	t.lastSample = ev.Value
	t.hasLastSample = true
	if t.state == StateIdle {
		return
	}

	t.samples.Append(sample{at: ev.At, value: ev.Value})

	if t.riseAt == nil && math.Abs(ev.Value-t.target) <= t.cfg.Tolerance {
		at := ev.At
		t.riseAt = &at
	}

	if !t.hasBest || t.isCloserToTarget(ev.Value) {
		t.bestReached = ev.Value
		t.hasBest = true
	}

	if !t.crossed && t.hasCrossed(ev.Value) {
		t.crossed = true
		t.crossedAt = ev.At
	}
	if t.crossed {
		if exc := t.excursion(ev.Value); exc > t.maxExcursion {
			t.maxExcursion = exc
		}
	}

	t.countOscillation(ev.Value)

	if t.state == StateSettling {
		t.checkSettled(ev.At)
	}
}

func (t *Tracker) approachDelta(value float64) float64 {
	if t.mode == model.ModeCool {
		return value - t.target
	}
	return t.target - value
}

func (t *Tracker) isCloserToTarget(value float64) bool {
	return t.approachDelta(value) < t.approachDelta(t.bestReached)
}

func (t *Tracker) hasCrossed(value float64) bool {
	return t.approachDelta(value) <= 0
}

func (t *Tracker) excursion(value float64) float64 {
	return -t.approachDelta(value)
}

func (t *Tracker) countOscillation(value float64) {
	diff := value - t.target
	var sign int
	switch {
	case diff > t.cfg.OscillationBand:
		sign = 1
	case diff < -t.cfg.OscillationBand:
		sign = -1
	default:
		return
	}
	if t.oscSign != 0 && sign != t.oscSign {
		t.oscCount++
	}
	t.oscSign = sign
}

// checkSettled finalizes once the recent-sample MAD drops under threshold
// with the median inside the tolerance band. MAD over variance: a single
// outlier sample must not hold the cycle open.
func (t *Tracker) checkSettled(now time.Time) {
	recent := t.samples.Tail(t.cfg.MADWindow)
	if len(recent) < t.cfg.MADWindow {
		return
	}
	values := make([]float64, len(recent))
	for i, s := range recent {
		values[i] = s.value
	}
	med := median(values)
	if mad(values, med) >= t.cfg.MADThreshold {
		return
	}
	if math.Abs(med-t.target) > t.cfg.Tolerance {
		return
	}
	t.finalize(now, "settled")
}

// OnSetpointChanged retargets minor changes in place; a major change
// aborts unless the device is still actively running, in which case the
// cycle tracks the new target.
func (t *Tracker) OnSetpointChanged(ev event.SetpointChanged) {
	defer func() { t.target = ev.New }()

	if math.Abs(ev.New-ev.Old) <= t.cfg.MinorSetpointDelta {
		return
	}
	if t.state == StateIdle {
		return
	}
	if (t.state == StateHeating || t.state == StateCooling) && t.demandActive {
		// Retarget: excursion and rise tracking restart against the
		// new setpoint.
		t.crossed = false
		t.maxExcursion = 0
		t.committedExcursion = 0
		t.riseAt = nil
		t.oscSign = 0
		return
	}
	t.abort("major_setpoint_change")
}

// OnModeChanged aborts any in-flight cycle.
func (t *Tracker) OnModeChanged(ev event.ModeChanged) {
	if t.state != StateIdle {
		t.abort("mode_change")
	}
	if ev.New.Valid() {
		t.mode = ev.New
	}
}

// OnContactPaused aborts any in-flight cycle; an open window invalidates
// everything the cycle would have measured.
func (t *Tracker) OnContactPaused(event.ContactPaused) {
	t.contactOpen = true
	if t.state != StateIdle {
		t.abort("contact_open")
	}
}

// OnContactResumed re-arms the tracker.
func (t *Tracker) OnContactResumed(event.ContactResumed) {
	t.contactOpen = false
}

func (t *Tracker) abort(reason string) {
	t.logger.Debug("cycle aborted", "reason", reason, "state", string(t.state))
	t.timers.Cancel(DeadlineDebounce)
	t.timers.Cancel(DeadlineSettle)
	t.resetCycleState()
	t.state = StateIdle
}

func (t *Tracker) resetCycleState() {
	t.samples.Reset()
	t.demandActive = false
	t.debouncePending = false
	t.startingDelta = nil
	t.crossed = false
	t.maxExcursion = 0
	t.committedExcursion = 0
	t.hasBest = false
	t.bestReached = 0
	t.riseAt = nil
	t.oscSign = 0
	t.oscCount = 0
	t.disturbed = false
	t.clamped = false
}

func (t *Tracker) finalize(now time.Time, reason string) {
	t.timers.Cancel(DeadlineDebounce)
	t.timers.Cancel(DeadlineSettle)

	committed := t.committedExcursion
	if committed > t.maxExcursion {
		committed = t.maxExcursion
	}

	var undershoot float64
	if t.hasBest {
		if d := t.approachDelta(t.bestReached); d > 0 {
			undershoot = d
		}
	}

	var riseTime *time.Duration
	if t.riseAt != nil {
		d := t.riseAt.Sub(t.cycleStart)
		riseTime = &d
	}

	settling := now.Sub(t.settleStart)
	if t.settleStart.IsZero() {
		// Finalized straight out of the active phase (demand
		// interruption); settling never began.
		settling = 0
	}

	rec := model.CycleRecord{
		Mode:                  t.mode,
		Overshoot:             t.maxExcursion,
		ControllableOvershoot: t.maxExcursion - committed,
		CommittedOvershoot:    committed,
		Undershoot:            undershoot,
		Oscillations:          t.oscCount,
		SettlingTime:          settling,
		RiseTime:              riseTime,
		StartingDelta:         t.startingDelta,
		Class:                 model.ClassifyCycle(t.startingDelta),
		Disturbed:             t.disturbed,
		WasClamped:            t.clamped,
		CompletedAt:           now,
	}

	t.logger.Debug("cycle finalized",
		"reason", reason,
		"overshoot", rec.Overshoot,
		"undershoot", rec.Undershoot,
		"oscillations", rec.Oscillations,
		"settling", rec.SettlingTime,
	)

	t.resetCycleState()
	t.state = StateIdle
	t.settleStart = time.Time{}

	if t.onComplete != nil {
		t.onComplete(rec)
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mad is the median absolute deviation around med.
func mad(values []float64, med float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return median(devs)
}
