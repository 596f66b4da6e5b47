package tuning

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

var baseGains = model.Gains{Kp: 1.0, Ki: 0.1, Kd: 0.1, Ke: 0.05, KeWind: 0.01}

func newTestTuner(cfg Config) *Tuner {
	return New(cfg, model.HeatingRadiator, baseGains, slog.Default())
}

type cycleOpts struct {
	overshoot  float64
	undershoot float64
	osc        int
	settling   time.Duration
	rise       time.Duration
	noRise     bool
	outdoor    *float64
}

func cycleWith(o cycleOpts) model.CycleRecord {
	if o.settling == 0 {
		o.settling = 20 * time.Minute
	}
	if o.rise == 0 {
		o.rise = 30 * time.Minute
	}
	rec := model.CycleRecord{
		Mode:                  model.ModeHeat,
		ControllableOvershoot: o.overshoot,
		Undershoot:            o.undershoot,
		Oscillations:          o.osc,
		SettlingTime:          o.settling,
		OutdoorTemp:           o.outdoor,
		Class:                 model.CycleRecovery,
		CompletedAt:           time.Now(),
	}
	if !o.noRise {
		rise := o.rise
		rec.RiseTime = &rise
	}
	return rec
}

func fill(t *Tuner, n int, o cycleOpts) {
	for i := 0; i < n; i++ {
		t.AddCycle(cycleWith(o))
	}
}

func TestEvaluate_InsufficientCyclesReturnsNil(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 5, cycleOpts{overshoot: 2.0})

	assert.Nil(t, tn.Evaluate(model.ModeHeat, time.Now()))
}

func TestEvaluate_ConvergedRaisesConfidence(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 0.1, undershoot: 0.1})

	before := tn.Confidence(model.ModeHeat)
	assert.Nil(t, tn.Evaluate(model.ModeHeat, time.Now()))
	assert.Greater(t, tn.Confidence(model.ModeHeat), before)
	assert.Equal(t, baseGains, tn.Gains(), "convergence must not move gains")
}

func TestEvaluate_OvershootRaisesKd(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleOvershoot, p.Rule)
	assert.Greater(t, p.Gains.Kd, baseGains.Kd)
	assert.Equal(t, baseGains.Kp, p.Gains.Kp)
	assert.Equal(t, baseGains.Ki, p.Gains.Ki)
}

func TestEvaluate_SevereOvershootAlsoTrimsKpKi(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 1.2})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleOvershoot, p.Rule)
	assert.Greater(t, p.Gains.Kd, baseGains.Kd)
	assert.Less(t, p.Gains.Kp, baseGains.Kp)
	assert.Less(t, p.Gains.Ki, baseGains.Ki)
}

func TestEvaluate_UndershootRaisesKiDiscountedByDecay(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{undershoot: 0.6})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleUndershoot, p.Rule)
	// severity 2, lr 1.3, radiator integral decay 2.0.
	assert.InDelta(t, 0.1*(1+0.10*1.3/2.0), p.Gains.Ki, 1e-9)
	assert.Equal(t, baseGains.Kp, p.Gains.Kp)
}

func TestEvaluate_OscillationTradesKpForKd(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{osc: 4})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleOscillation, p.Rule)
	assert.Less(t, p.Gains.Kp, baseGains.Kp)
	assert.Greater(t, p.Gains.Kd, baseGains.Kd)
}

func TestEvaluate_SlowResponseWithoutCorrelationRaisesKp(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{rise: 90 * time.Minute})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleSlowResponse, p.Rule)
	assert.Greater(t, p.Gains.Kp, baseGains.Kp)
	assert.Equal(t, baseGains.Ki, p.Gains.Ki)
}

func TestEvaluate_SlowResponseColdCorrelatedRaisesKi(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	// Rise time grows as outdoor drops; strong negative correlation.
	for _, outdoor := range []float64{-5, 0, 5, 10, -2, 8} {
		out := outdoor
		rise := time.Duration(120-4*outdoor) * time.Minute
		tn.AddCycle(cycleWith(cycleOpts{rise: rise, outdoor: &out}))
	}

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleSlowResponse, p.Rule)
	assert.Greater(t, p.Gains.Ki, baseGains.Ki)
	assert.Equal(t, baseGains.Kp, p.Gains.Kp)
}

func TestEvaluate_ConflictHigherPriorityWins(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 0.8, osc: 4})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, RuleOvershoot, p.Rule)
	assert.Equal(t, []string{RuleOscillation}, p.Suppressed)
}

func TestEvaluate_HybridRateGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAdjustInterval = 12 * time.Hour
	cfg.MinCyclesBetween = 3
	tn := newTestTuner(cfg)
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	now := time.Now()
	p := tn.Evaluate(model.ModeHeat, now)
	require.NotNil(t, p)
	tn.Apply(p, now, false)

	assert.Nil(t, tn.Evaluate(model.ModeHeat, now.Add(time.Hour)),
		"blocked inside the minimum interval")
	assert.Nil(t, tn.Evaluate(model.ModeHeat, now.Add(13*time.Hour)),
		"blocked until enough new cycles accrue")

	fill(tn, 3, cycleOpts{overshoot: 0.8})
	assert.NotNil(t, tn.Evaluate(model.ModeHeat, now.Add(13*time.Hour)))
}

func TestEvaluate_ProposedGainsStayInBounds(t *testing.T) {
	cfg := DefaultConfig()
	tn := New(cfg, model.HeatingRadiator,
		model.Gains{Kp: 1.0, Ki: 0.1, Kd: 0.95, Ke: 0.05}, slog.Default())
	fill(tn, 6, cycleOpts{overshoot: 2.5})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	assert.LessOrEqual(t, p.Gains.Kd, cfg.Bounds.KdMax)
}

func TestAutoApply_LifetimeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoApplyLifetimeCap = 0
	tn := newTestTuner(cfg)

	ok, reason := tn.AutoApply(&Proposal{Gains: baseGains}, model.ModeHeat, time.Now())
	assert.False(t, ok)
	assert.Equal(t, BlockLifetimeCap, reason)
	assert.Equal(t, baseGains, tn.Gains())
}

func TestAutoApply_WindowCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoApplyWindowCap = 1
	tn := newTestTuner(cfg)
	now := time.Now()

	first := baseGains
	first.Kd = 0.11
	ok, _ := tn.AutoApply(&Proposal{Gains: first}, model.ModeHeat, now)
	require.True(t, ok)

	second := baseGains
	second.Kd = 0.12
	ok, reason := tn.AutoApply(&Proposal{Gains: second}, model.ModeHeat, now.Add(time.Minute))
	assert.False(t, ok)
	assert.Equal(t, BlockWindowCap, reason)
	assert.Equal(t, first, tn.Gains())

	// Window cap is rolling: once the first apply ages out, the gate opens.
	ok, _ = tn.AutoApply(&Proposal{Gains: second}, model.ModeHeat, now.Add(cfg.AutoApplyWindow+time.Minute))
	assert.True(t, ok)
}

func TestAutoApply_DriftCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDriftFromBaseline = 0.05
	tn := newTestTuner(cfg)

	drifted := baseGains
	drifted.Kd = baseGains.Kd * 1.2
	ok, reason := tn.AutoApply(&Proposal{Gains: drifted}, model.ModeHeat, time.Now())
	assert.False(t, ok)
	assert.Equal(t, BlockDriftCap, reason)
	assert.Equal(t, baseGains, tn.Gains())
}

func TestAutoApply_OutdoorShiftCooldown(t *testing.T) {
	cfg := DefaultConfig()
	tn := newTestTuner(cfg)
	now := time.Now()
	tn.NoteOutdoorShift(now)

	g := baseGains
	g.Kd = 0.11
	ok, reason := tn.AutoApply(&Proposal{Gains: g}, model.ModeHeat, now.Add(time.Hour))
	assert.False(t, ok)
	assert.Equal(t, BlockOutdoorCooldown, reason)

	ok, _ = tn.AutoApply(&Proposal{Gains: g}, model.ModeHeat, now.Add(cfg.OutdoorShiftCooldown+time.Minute))
	assert.True(t, ok)
}

func TestValidationWindow_DegradationRollsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidationWindow = 3
	tn := newTestTuner(cfg)
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	now := time.Now()
	p := tn.Evaluate(model.ModeHeat, now)
	require.NotNil(t, p)

	before := tn.Gains()
	ok, _ := tn.AutoApply(p, model.ModeHeat, now)
	require.True(t, ok)
	require.NotEqual(t, before, tn.Gains())

	worse := cycleOpts{overshoot: 3.0, undershoot: 1.0, osc: 5,
		settling: 2 * time.Hour, rise: 2 * time.Hour}
	assert.Nil(t, tn.AddCycle(cycleWith(worse)))
	assert.Nil(t, tn.AddCycle(cycleWith(worse)))

	res := tn.AddCycle(cycleWith(worse))
	require.NotNil(t, res)
	assert.Equal(t, before, res.Restored)
	assert.Equal(t, before, tn.Gains())
}

func TestValidationWindow_ComparablePerformanceKeepsGains(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidationWindow = 3
	tn := newTestTuner(cfg)
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	now := time.Now()
	p := tn.Evaluate(model.ModeHeat, now)
	require.NotNil(t, p)
	ok, _ := tn.AutoApply(p, model.ModeHeat, now)
	require.True(t, ok)
	applied := tn.Gains()

	for i := 0; i < 3; i++ {
		assert.Nil(t, tn.AddCycle(cycleWith(cycleOpts{overshoot: 0.7})))
	}
	assert.Equal(t, applied, tn.Gains())
}

func TestRollback_EmptyLog(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	_, ok := tn.Rollback()
	assert.False(t, ok)
}

func TestRollback_RestoresExactPriorGains(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	p := tn.Evaluate(model.ModeHeat, time.Now())
	require.NotNil(t, p)
	tn.Apply(p, time.Now(), false)
	require.NotEqual(t, baseGains, tn.Gains())

	restored, ok := tn.Rollback()
	require.True(t, ok)
	assert.Equal(t, baseGains, restored)
	assert.Equal(t, baseGains, tn.Gains())
	assert.Empty(t, tn.ChangeLog())
}

func TestPoorCyclesLowerConfidence(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	before := tn.Confidence(model.ModeHeat)
	tn.AddCycle(cycleWith(cycleOpts{overshoot: 1.5}))
	assert.Less(t, tn.Confidence(model.ModeHeat), before)
}

func TestConfidenceDecaysOverWallClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceDecayTau = 24 * time.Hour
	tn := newTestTuner(cfg)
	fill(tn, 6, cycleOpts{overshoot: 0.1})

	now := time.Now()
	tn.Evaluate(model.ModeHeat, now)
	raised := tn.Confidence(model.ModeHeat)

	tn.Evaluate(model.ModeHeat, now.Add(48*time.Hour))
	// Two tau of decay dominates the single convergence bump.
	assert.Less(t, tn.Confidence(model.ModeHeat), raised)
}

func TestSnapshotRoundTrip(t *testing.T) {
	tn := newTestTuner(DefaultConfig())
	fill(tn, 6, cycleOpts{overshoot: 0.8})

	now := time.Now()
	p := tn.Evaluate(model.ModeHeat, now)
	require.NotNil(t, p)
	ok, _ := tn.AutoApply(p, model.ModeHeat, now)
	require.True(t, ok)

	snap := tn.Snapshot()

	fresh := newTestTuner(DefaultConfig())
	fresh.Restore(snap)

	assert.Equal(t, tn.Gains(), fresh.Gains())
	assert.Equal(t, tn.Confidence(model.ModeHeat), fresh.Confidence(model.ModeHeat))
	assert.Equal(t, tn.CycleCount(model.ModeHeat), fresh.CycleCount(model.ModeHeat))
	assert.Equal(t, tn.ChangeLog(), fresh.ChangeLog())

	// The restored tuner continues the validation window the original opened.
	worse := cycleOpts{overshoot: 3.0, undershoot: 1.0, osc: 5,
		settling: 2 * time.Hour, rise: 2 * time.Hour}
	for i := 0; i < DefaultConfig().ValidationWindow-1; i++ {
		require.Nil(t, fresh.AddCycle(cycleWith(worse)))
	}
	assert.NotNil(t, fresh.AddCycle(cycleWith(worse)))
}
