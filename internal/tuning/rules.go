package tuning

import (
	"math"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

// Rule names, highest priority first. When several rules fire in the same
// evaluation only the highest-priority one applies; the rest are reported
// suppressed.
const (
	RuleOvershoot    = "overshoot"
	RuleUndershoot   = "undershoot"
	RuleOscillation  = "oscillation"
	RuleSlowResponse = "slow_response"
)

// severeOvershootFactor marks an overshoot bad enough to also pull back
// kp and ki instead of only damping with kd.
const severeOvershootFactor = 2.5

type gainDelta struct {
	rule   string
	reason string
	apply  func(model.Gains) model.Gains
}

// runRules evaluates the four rules in priority order against the window
// averages. At most one delta is returned; firing rules that lost the
// priority contest come back in suppressed.
func (t *Tuner) runRules(w windowAverages, lr float64) ([]gainDelta, []string) {
	var fired []gainDelta

	if d, ok := t.overshootRule(w, lr); ok {
		fired = append(fired, d)
	}
	if d, ok := t.undershootRule(w, lr); ok {
		fired = append(fired, d)
	}
	if d, ok := t.oscillationRule(w, lr); ok {
		fired = append(fired, d)
	}
	if d, ok := t.slowResponseRule(w, lr); ok {
		fired = append(fired, d)
	}

	if len(fired) == 0 {
		return nil, nil
	}

	winner := fired[0]
	var suppressed []string
	for _, d := range fired[1:] {
		suppressed = append(suppressed, d.rule)
		t.logger.Debug("tuning rule suppressed",
			"suppressed", d.rule, "winner", winner.rule)
	}
	return []gainDelta{winner}, suppressed
}

// overshootRule dampens by raising kd. A severe overshoot also trims the
// gains that drove the output too hard.
func (t *Tuner) overshootRule(w windowAverages, lr float64) (gainDelta, bool) {
	if w.overshoot <= t.profile.MaxAvgOvershoot {
		return gainDelta{}, false
	}
	severity := w.overshoot / t.profile.MaxAvgOvershoot
	severe := severity >= severeOvershootFactor
	step := clampStep(0.10 * lr * (severity - 1))

	reason := "avg overshoot above threshold"
	if severe {
		reason = "severe avg overshoot above threshold"
	}
	return gainDelta{
		rule:   RuleOvershoot,
		reason: reason,
		apply: func(g model.Gains) model.Gains {
			g.Kd *= 1 + step
			if severe {
				g.Kp *= 1 - step/2
				g.Ki *= 1 - step/2
			}
			return g
		},
	}, true
}

// undershootRule strengthens the integral term. The step is discounted by
// the profile's integral decay because a high decay already erodes the
// integral the rule is trying to grow.
func (t *Tuner) undershootRule(w windowAverages, lr float64) (gainDelta, bool) {
	if w.undershoot <= t.profile.MaxAvgUndershoot {
		return gainDelta{}, false
	}
	severity := w.undershoot / t.profile.MaxAvgUndershoot
	step := clampStep(0.10 * lr * (severity - 1) / t.profile.IntegralDecay)

	return gainDelta{
		rule:   RuleUndershoot,
		reason: "avg undershoot above threshold",
		apply: func(g model.Gains) model.Gains {
			g.Ki *= 1 + step
			return g
		},
	}, true
}

// oscillationRule trades proportional aggression for damping.
func (t *Tuner) oscillationRule(w windowAverages, lr float64) (gainDelta, bool) {
	if w.oscillations <= t.profile.MaxAvgOscillations {
		return gainDelta{}, false
	}
	severity := w.oscillations / t.profile.MaxAvgOscillations
	step := clampStep(0.08 * lr * (severity - 1))

	return gainDelta{
		rule:   RuleOscillation,
		reason: "avg oscillations above threshold",
		apply: func(g model.Gains) model.Gains {
			g.Kp *= 1 - step
			g.Kd *= 1 + step
			return g
		},
	}, true
}

// slowResponseRule fires on slow rise. Which gain it grows depends on
// whether slowness correlates with cold outdoor conditions: a cold-weather
// correlation points at steady-state authority (ki), no correlation points
// at raw drive (kp).
func (t *Tuner) slowResponseRule(w windowAverages, lr float64) (gainDelta, bool) {
	if w.riseSamples == 0 || w.rise <= t.profile.MaxAvgRise {
		return gainDelta{}, false
	}
	severity := w.rise.Hours() / t.profile.MaxAvgRise.Hours()
	step := clampStep(0.08 * lr * (severity - 1))

	coldCorrelated := outdoorRiseCorrelation(w.records) < -0.4

	reason := "avg rise time above threshold"
	if coldCorrelated {
		reason = "avg rise time above threshold, correlated with cold outdoor"
	}
	return gainDelta{
		rule:   RuleSlowResponse,
		reason: reason,
		apply: func(g model.Gains) model.Gains {
			if coldCorrelated {
				g.Ki *= 1 + step
			} else {
				g.Kp *= 1 + step
			}
			return g
		},
	}, true
}

// clampStep bounds a relative step so a single adjustment never moves a
// gain by more than 30%.
func clampStep(step float64) float64 {
	if step < 0.02 {
		return 0.02
	}
	if step > 0.30 {
		return 0.30
	}
	return step
}

// outdoorRiseCorrelation is the Pearson correlation between outdoor
// temperature and rise time over records carrying both. Rise growing as
// outdoor drops yields a negative coefficient. Returns 0 when fewer than
// three records qualify or either series is constant.
func outdoorRiseCorrelation(records []model.CycleRecord) float64 {
	var xs, ys []float64
	for _, rec := range records {
		if rec.OutdoorTemp == nil || rec.RiseTime == nil {
			continue
		}
		xs = append(xs, *rec.OutdoorTemp)
		ys = append(ys, rec.RiseTime.Hours())
	}
	if len(xs) < 3 {
		return 0
	}

	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
