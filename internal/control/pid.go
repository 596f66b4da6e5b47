package control

import (
	"errors"
	"math"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

// ErrInvalidInput marks a non-finite measurement, setpoint or auxiliary
// input. The controller recovers locally by returning the last valid output.
var ErrInvalidInput = errors.New("control: non-finite input")

// Config carries the fixed numeric parameters of one zone's controller.
// Gains live separately so the tuner can swap them at runtime.
type Config struct {
	OutMin float64
	OutMax float64

	// DerivFilterAlpha is the EMA coefficient applied to the raw
	// derivative; lower values reject more sensor noise.
	DerivFilterAlpha float64

	// MinDt freezes the derivative filter below this tick interval so
	// near-zero intervals do not amplify noise.
	MinDt time.Duration

	// OutdoorLagTau is the time constant of the lagged outdoor EMA
	// modeling envelope thermal lag. Multi-hour for most buildings.
	OutdoorLagTau time.Duration

	// IntegralDecay accelerates integral wind-down when the accumulated
	// integral opposes the current error. 1 disables the asymmetry.
	IntegralDecay float64
}

// DefaultConfig returns controller parameters sized for the heating type.
func DefaultConfig(ht model.HeatingType) Config {
	p := model.ProfileFor(ht)
	return Config{
		OutMin:           0,
		OutMax:           100,
		DerivFilterAlpha: 0.3,
		MinDt:            10 * time.Second,
		OutdoorLagTau:    p.ThermalTimeConstant * 2,
		IntegralDecay:    p.IntegralDecay,
	}
}

// Input is one tick's worth of controller inputs. Dt is caller-supplied so
// behavior stays deterministic under test; wall clocks are never read here.
type Input struct {
	Measurement float64
	Setpoint    float64
	Dt          time.Duration
	OutdoorTemp *float64
	WindSpeed   *float64
}

// State is the persisted mutable state of a controller.
type State struct {
	Gains           model.Gains `json:"gains"`
	PropAccum       float64     `json:"prop_accum"`
	Integral        float64     `json:"integral"`
	DerivFiltered   float64     `json:"deriv_filtered"`
	LastMeasurement float64     `json:"last_measurement"`
	HasLast         bool        `json:"has_last"`
	LaggedOutdoor   float64     `json:"lagged_outdoor"`
	HasLagged       bool        `json:"has_lagged"`
	LastOutput      float64     `json:"last_output"`
	SaturatedHigh   bool        `json:"saturated_high"`
	SaturatedLow    bool        `json:"saturated_low"`
}

// Controller is a PID controller with proportional-on-measurement,
// directional anti-windup, filtered derivative and outdoor feed-forward.
// Not safe for concurrent use; the owning zone serializes ticks.
type Controller struct {
	cfg   Config
	gains model.Gains

	propAccum       float64
	integral        float64
	derivFiltered   float64
	lastMeasurement float64
	hasLast         bool
	laggedOutdoor   float64
	hasLagged       bool

	lastOutput    float64
	saturatedHigh bool
	saturatedLow  bool
	clamped       bool

	preload    float64
	hasPreload bool
}

func New(cfg Config, gains model.Gains) *Controller {
	if cfg.DerivFilterAlpha <= 0 || cfg.DerivFilterAlpha > 1 {
		cfg.DerivFilterAlpha = 0.3
	}
	if cfg.IntegralDecay < 1 {
		cfg.IntegralDecay = 1
	}
	if cfg.OutdoorLagTau <= 0 {
		cfg.OutdoorLagTau = 3 * time.Hour
	}
	return &Controller{cfg: cfg, gains: gains}
}

// Gains returns the current gain set.
func (c *Controller) Gains() model.Gains {
	return c.gains
}

// SetGains swaps the gain set. The integral accumulator is preserved; the
// output simply reflects the new gains on the next tick.
func (c *Controller) SetGains(g model.Gains) {
	c.gains = g
}

// Activate arms a bumpless transfer: the next Calc pre-loads the integral
// so its output equals lastOutput, avoiding a step discontinuity when the
// zone comes back under closed-loop control.
func (c *Controller) Activate(lastOutput float64) {
	c.preload = clamp(lastOutput, c.cfg.OutMin, c.cfg.OutMax)
	c.hasPreload = true
}

// LastOutput returns the most recent output value.
func (c *Controller) LastOutput() float64 {
	return c.lastOutput
}

// TakeClamped reports whether the output saturated since the last call and
// resets the flag. The cycle tracker samples this once per cycle.
func (c *Controller) TakeClamped() bool {
	v := c.clamped
	c.clamped = false
	return v
}

// Calc runs one control tick and returns the output in [OutMin, OutMax].
// Non-finite inputs return ErrInvalidInput along with the last valid
// output so regulation degrades instead of stopping.
func (c *Controller) Calc(in Input) (float64, error) {
	if !finiteInput(in) {
		return c.lastOutput, ErrInvalidInput
	}

	dtHours := in.Dt.Hours()
	err := in.Setpoint - in.Measurement

	// Envelope lag: outdoor temperature reaches the structure hours late.
	if in.OutdoorTemp != nil {
		if !c.hasLagged {
			c.laggedOutdoor = *in.OutdoorTemp
			c.hasLagged = true
		} else {
			alpha := 1 - math.Exp(-dtHours/c.cfg.OutdoorLagTau.Hours())
			c.laggedOutdoor += alpha * (*in.OutdoorTemp - c.laggedOutdoor)
		}
	}
	ff := c.feedForward(in)

	// Proportional on measurement: the term accumulates measurement
	// changes, so a setpoint step produces no proportional kick.
	if c.hasLast {
		c.propAccum -= c.gains.Kp * (in.Measurement - c.lastMeasurement)
	}

	if c.hasLast && in.Dt >= c.cfg.MinDt && dtHours > 0 {
		raw := -(in.Measurement - c.lastMeasurement) / dtHours
		a := c.cfg.DerivFilterAlpha
		c.derivFiltered = a*raw + (1-a)*c.derivFiltered
	}
	dTerm := c.gains.Kd * c.derivFiltered

	if c.hasPreload {
		// Bumpless transfer: this tick's output must equal the
		// pre-activation output, so normal accumulation is skipped.
		c.bumplessPreload(dTerm, ff)
	} else {
		c.accumulateIntegral(err, dtHours)
	}
	c.clampIntegral(ff)

	out := c.propAccum + c.gains.Ki*c.integral + dTerm + ff
	bounded := clamp(out, c.cfg.OutMin, c.cfg.OutMax)
	c.saturatedHigh = bounded >= c.cfg.OutMax && out >= c.cfg.OutMax
	c.saturatedLow = bounded <= c.cfg.OutMin && out <= c.cfg.OutMin
	if bounded != out {
		c.clamped = true
	}

	c.lastMeasurement = in.Measurement
	c.hasLast = true
	c.lastOutput = bounded
	return bounded, nil
}

func (c *Controller) feedForward(in Input) float64 {
	if !c.hasLagged {
		return 0
	}
	delta := in.Setpoint - c.laggedOutdoor
	ff := c.gains.Ke * delta
	if in.WindSpeed != nil {
		ff += c.gains.KeWind * *in.WindSpeed * delta
	}
	return ff
}

// bumplessPreload sizes the integral so the imminent output equals the
// last known output.
func (c *Controller) bumplessPreload(dTerm, ff float64) {
	target := c.preload - c.propAccum - dTerm - ff
	if c.gains.Ki > 0 {
		c.integral = target / c.gains.Ki
	} else {
		c.propAccum += target
	}
	c.hasPreload = false
}

// accumulateIntegral applies directional anti-windup: accumulation is
// suppressed only while the output is saturated in the direction the error
// would keep pushing; winding down stays allowed. When the integral sign
// opposes the error sign (thermal overhang) the configured decay
// multiplier accelerates the wind-down.
func (c *Controller) accumulateIntegral(err, dtHours float64) {
	if dtHours <= 0 {
		return
	}
	if (c.saturatedHigh && err > 0) || (c.saturatedLow && err < 0) {
		return
	}
	inc := err * dtHours
	if c.integral != 0 && c.integral*err < 0 {
		inc *= c.cfg.IntegralDecay
	}
	c.integral += inc
}

// clampIntegral keeps the integral from carrying P + I + feed-forward past
// the output range even as the feed-forward term moves tick to tick. The
// bounds are anchored at zero so the clamp only ever pulls the integral
// toward zero, never winds it up.
func (c *Controller) clampIntegral(ff float64) {
	if c.gains.Ki <= 0 {
		return
	}
	iMax := math.Max(0, (c.cfg.OutMax-c.propAccum-ff)/c.gains.Ki)
	iMin := math.Min(0, (c.cfg.OutMin-c.propAccum-ff)/c.gains.Ki)
	c.integral = clamp(c.integral, iMin, iMax)
}

// Snapshot exports the persisted state.
func (c *Controller) Snapshot() State {
	return State{
		Gains:           c.gains,
		PropAccum:       c.propAccum,
		Integral:        c.integral,
		DerivFiltered:   c.derivFiltered,
		LastMeasurement: c.lastMeasurement,
		HasLast:         c.hasLast,
		LaggedOutdoor:   c.laggedOutdoor,
		HasLagged:       c.hasLagged,
		LastOutput:      c.lastOutput,
		SaturatedHigh:   c.saturatedHigh,
		SaturatedLow:    c.saturatedLow,
	}
}

// Restore replaces the mutable state from a snapshot.
func (c *Controller) Restore(s State) {
	c.gains = s.Gains
	c.propAccum = s.PropAccum
	c.integral = s.Integral
	c.derivFiltered = s.DerivFiltered
	c.lastMeasurement = s.LastMeasurement
	c.hasLast = s.HasLast
	c.laggedOutdoor = s.LaggedOutdoor
	c.hasLagged = s.HasLagged
	c.lastOutput = s.LastOutput
	c.saturatedHigh = s.SaturatedHigh
	c.saturatedLow = s.SaturatedLow
	c.hasPreload = false
	c.clamped = false
}

func finiteInput(in Input) bool {
	if !finite(in.Measurement) || !finite(in.Setpoint) {
		return false
	}
	if in.Dt <= 0 {
		return false
	}
	if in.OutdoorTemp != nil && !finite(*in.OutdoorTemp) {
		return false
	}
	if in.WindSpeed != nil && !finite(*in.WindSpeed) {
		return false
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
