package ratelearn

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ringbuf"
	"github.com/google/uuid"
)

// Session lifecycle misuse is a programmer error, not a recoverable
// condition.
var (
	ErrSessionActive   = errors.New("ratelearn: session already active")
	ErrNoActiveSession = errors.New("ratelearn: no active session")
)

const (
	// NumBins is the fixed bin count: 4 delta ranges x 3 outdoor ranges.
	NumBins = 12

	// BinCap bounds observations per bin, FIFO.
	BinCap = 20

	minSessionObs   = 3
	minCycleObs     = 3
	minUnderperfObs = 5

	// underperfFraction: live rates below this share of the bin mean
	// count as underperforming.
	underperfFraction = 0.60

	// qualifyingRise is the minimum per-update temperature rise that
	// counts as progress.
	qualifyingRise = 0.1

	// stallUpdates consecutive updates without a qualifying rise mark
	// the session stalled.
	stallUpdates = 3

	// Operating-condition swings large enough to reset the
	// cross-session stall streak.
	outdoorSwingReset = 5.0
	targetSwingReset  = 2.0
)

// Learner maintains binned heating-rate statistics for preheat scheduling
// and undershoot detection. Not safe for concurrent use; the owning zone
// serializes access.
type Learner struct {
	logger  *slog.Logger
	profile model.Profile

	bins [NumBins]*ringbuf.Ring[model.RateObservation]

	active *model.Session

	consecStalls   int
	stallDutySum   float64
	stallDutyCount int

	lastOutdoor *float64
	lastTarget  *float64
}

// New creates a learner with all 12 bins empty.
func New(ht model.HeatingType, logger *slog.Logger) *Learner {
	l := &Learner{
		logger:  logger.With("component", "rate_learner"),
		profile: model.ProfileFor(ht),
	}
	for i := range l.bins {
		l.bins[i] = ringbuf.New[model.RateObservation](BinCap)
	}
	return l
}

// BinIndex maps a (delta, outdoor) pair to one of the 12 fixed bins.
// Out-of-range values fall into the nearest edge bin.
func BinIndex(delta, outdoor float64) int {
	var d int
	switch {
	case delta < 2:
		d = 0
	case delta < 4:
		d = 1
	case delta < 6:
		d = 2
	default:
		d = 3
	}
	var o int
	switch {
	case outdoor < 5:
		o = 0
	case outdoor < 15:
		o = 1
	default:
		o = 2
	}
	return d*3 + o
}

// Observe banks a rate observation in the bin for (delta, outdoor).
// Non-positive rates carry no scheduling information and are dropped.
func (l *Learner) Observe(delta, outdoor float64, obs model.RateObservation) {
	if obs.Rate <= 0 || math.IsNaN(obs.Rate) || math.IsInf(obs.Rate, 0) {
		l.logger.Debug("dropping non-positive rate observation", "rate", obs.Rate)
		return
	}
	l.bins[BinIndex(delta, outdoor)].Append(obs)
}

// ObserveCycle banks a single-activation observation (lower confidence
// than a session observation).
func (l *Learner) ObserveCycle(delta, outdoor, rate float64, duration time.Duration, now time.Time) {
	l.Observe(delta, outdoor, model.RateObservation{
		Rate:       rate,
		Duration:   duration,
		Source:     model.SourceCycle,
		ObservedAt: now,
	})
}

// HeatingRate answers the achievable rate for the given conditions.
// Session observations win over cycle observations; with neither in
// sufficient number the heating-type fallback applies. The returned rate
// is always positive and the source is exactly one of learned_session,
// learned_cycle or fallback.
func (l *Learner) HeatingRate(delta, outdoor float64) (float64, model.RateSource) {
	bin := l.bins[BinIndex(delta, outdoor)]

	var sessionSum, cycleSum float64
	var sessionN, cycleN int
	for _, obs := range bin.Items() {
		switch obs.Source {
		case model.SourceSession:
			sessionSum += obs.Rate
			sessionN++
		case model.SourceCycle:
			cycleSum += obs.Rate
			cycleN++
		}
	}

	if sessionN >= minSessionObs {
		if mean := sessionSum / float64(sessionN); mean > 0 {
			return mean, model.RateLearnedSession
		}
	}
	if cycleN >= minCycleObs {
		if mean := cycleSum / float64(cycleN); mean > 0 {
			return mean, model.RateLearnedCycle
		}
	}
	return l.profile.FallbackRate, model.RateFallback
}

// BinCount returns how many observations the bin for (delta, outdoor)
// currently holds.
func (l *Learner) BinCount(delta, outdoor float64) int {
	return l.bins[BinIndex(delta, outdoor)].Len()
}

// IsUnderperforming reports whether a live rate is well below the learned
// mean for the conditions. Fewer than five observations in the bin is
// insufficient data and never flags.
func (l *Learner) IsUnderperforming(rate, delta, outdoor float64) bool {
	bin := l.bins[BinIndex(delta, outdoor)]
	if bin.Len() < minUnderperfObs {
		return false
	}
	sum := 0.0
	for _, obs := range bin.Items() {
		sum += obs.Rate
	}
	mean := sum / float64(bin.Len())
	return rate < underperfFraction*mean
}

// StartSession opens the zone's single recovery session. Starting while
// one is active is misuse and returns ErrSessionActive.
func (l *Learner) StartSession(startTemp, targetTemp, outdoor float64, now time.Time) (*model.Session, error) {
	if l.active != nil {
		return nil, ErrSessionActive
	}

	// A large swing in conditions invalidates the stall streak: the new
	// regime says nothing about the old one.
	if l.lastOutdoor != nil && math.Abs(outdoor-*l.lastOutdoor) > outdoorSwingReset {
		l.resetStallStreak("outdoor_swing")
	}
	if l.lastTarget != nil && math.Abs(targetTemp-*l.lastTarget) > targetSwingReset {
		l.resetStallStreak("target_swing")
	}
	o, tg := outdoor, targetTemp
	l.lastOutdoor, l.lastTarget = &o, &tg

	l.active = &model.Session{
		ID:          uuid.New(),
		StartTemp:   startTemp,
		TargetTemp:  targetTemp,
		OutdoorTemp: outdoor,
		StartedAt:   now,
		LastTemp:    startTemp,
	}
	return l.active, nil
}

// ActiveSession returns the open session, or nil.
func (l *Learner) ActiveSession() *model.Session {
	return l.active
}

// UpdateSession folds one progress report into the active session and
// reports whether the session is now stalled.
func (l *Learner) UpdateSession(temp, duty float64, now time.Time) (bool, error) {
	s := l.active
	if s == nil {
		return false, ErrNoActiveSession
	}

	if temp-s.LastTemp >= qualifyingRise {
		s.NoRiseUpdates = 0
		s.LastProgressCycle = s.Cycles
	} else {
		s.NoRiseUpdates++
	}
	s.Cycles++
	s.DutyValues = append(s.DutyValues, duty)
	s.LastTemp = temp

	return s.NoRiseUpdates >= stallUpdates, nil
}

// EndSession closes the active session and banks a rate observation unless
// the reason is an override or the session was too short to trust.
func (l *Learner) EndSession(endTemp float64, reason model.SessionEndReason, now time.Time) (*model.RateObservation, error) {
	s := l.active
	if s == nil {
		return nil, ErrNoActiveSession
	}
	l.active = nil

	switch reason {
	case model.EndReasonStalled:
		l.consecStalls++
		l.stallDutySum += s.MeanDuty()
		l.stallDutyCount++
	case model.EndReasonTargetReached:
		l.resetStallStreak("session_success")
	}

	if reason == model.EndReasonOverride {
		return nil, nil
	}
	duration := now.Sub(s.StartedAt)
	if duration < l.profile.MinSessionDuration {
		l.logger.Debug("session too short to bank", "duration", duration, "minimum", l.profile.MinSessionDuration)
		return nil, nil
	}

	rate := (endTemp - s.StartTemp) / duration.Hours()
	obs := model.RateObservation{
		Rate:       rate,
		Duration:   duration,
		Source:     model.SourceSession,
		Stalled:    reason == model.EndReasonStalled,
		ObservedAt: now,
	}
	l.Observe(s.TargetTemp-s.StartTemp, s.OutdoorTemp, obs)
	if rate <= 0 {
		return nil, nil
	}
	return &obs, nil
}

// RecommendIntegralBoost signals that at least two consecutive sessions
// stalled while mean duty stayed below the capacity threshold, ruling out
// simple capacity exhaustion: the integral gain is too weak for the load.
func (l *Learner) RecommendIntegralBoost() bool {
	if l.consecStalls < 2 || l.stallDutyCount == 0 {
		return false
	}
	meanDuty := l.stallDutySum / float64(l.stallDutyCount)
	return meanDuty < l.profile.CapacityDutyThreshold
}

// ConsecutiveStalls returns the cross-session stall streak length.
func (l *Learner) ConsecutiveStalls() int {
	return l.consecStalls
}

func (l *Learner) resetStallStreak(reason string) {
	if l.consecStalls > 0 {
		l.logger.Debug("stall streak reset", "reason", reason, "streak", l.consecStalls)
	}
	l.consecStalls = 0
	l.stallDutySum = 0
	l.stallDutyCount = 0
}

// State is the persisted learner state.
type State struct {
	Bins           [][]model.RateObservation `json:"bins"`
	ActiveSession  *model.Session            `json:"active_session"`
	ConsecStalls   int                       `json:"consec_stalls"`
	StallDutySum   float64                   `json:"stall_duty_sum"`
	StallDutyCount int                       `json:"stall_duty_count"`
	LastOutdoor    *float64                  `json:"last_outdoor,omitempty"`
	LastTarget     *float64                  `json:"last_target,omitempty"`
}

// Snapshot exports the learner state.
func (l *Learner) Snapshot() State {
	s := State{
		Bins:           make([][]model.RateObservation, NumBins),
		ActiveSession:  l.active,
		ConsecStalls:   l.consecStalls,
		StallDutySum:   l.stallDutySum,
		StallDutyCount: l.stallDutyCount,
		LastOutdoor:    l.lastOutdoor,
		LastTarget:     l.lastTarget,
	}
	for i, bin := range l.bins {
		s.Bins[i] = bin.Items()
	}
	return s
}

// Restore replaces the learner state from a snapshot. Missing or malformed
// bin structure degrades to empty bins; restore never fails.
func (l *Learner) Restore(s State) {
	for i := range l.bins {
		l.bins[i].Reset()
	}
	if len(s.Bins) == NumBins {
		for i, obs := range s.Bins {
			l.bins[i].FromItems(obs)
		}
	} else if s.Bins != nil {
		l.logger.Warn("rate bin structure mismatch, starting with empty bins",
			"got", len(s.Bins), "want", NumBins)
	}
	l.active = s.ActiveSession
	l.consecStalls = s.ConsecStalls
	l.stallDutySum = s.StallDutySum
	l.stallDutyCount = s.StallDutyCount
	l.lastOutdoor = s.LastOutdoor
	l.lastTarget = s.LastTarget
}
