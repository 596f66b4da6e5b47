package control

import (
	"math"
	"testing"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		OutMin:           0,
		OutMax:           100,
		DerivFilterAlpha: 0.3,
		MinDt:            10 * time.Second,
		OutdoorLagTau:    3 * time.Hour,
		IntegralDecay:    2,
	}
}

func ptr(v float64) *float64 { return &v }

func TestCalc_NoProportionalKickOnSetpointChange(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 100})

	// Settle at setpoint 20.0 with a constant measurement.
	for i := 0; i < 3; i++ {
		_, err := c.Calc(Input{Measurement: 20.0, Setpoint: 20.0, Dt: time.Minute})
		require.NoError(t, err)
	}

	// First tick after the setpoint jumps to 21.0: the measurement has
	// not moved, so the proportional contribution must stay zero.
	out, err := c.Calc(Input{Measurement: 20.0, Setpoint: 21.0, Dt: time.Minute})
	require.NoError(t, err)
	assert.InDelta(t, 0, out, 1e-9)
	assert.GreaterOrEqual(t, out, 0.0)
	assert.LessOrEqual(t, out, 100.0)
}

func TestCalc_OutputAlwaysBounded(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 5, Ki: 2, Kd: 1, Ke: 0.5})

	cases := []struct {
		measurement, setpoint float64
	}{
		{10, 30}, {30, 10}, {-40, 35}, {35, -40}, {20, 20}, {0, 100},
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			out, err := c.Calc(Input{
				Measurement: tc.measurement,
				Setpoint:    tc.setpoint,
				Dt:          time.Minute,
				OutdoorTemp: ptr(-10),
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, out, 0.0)
			assert.LessOrEqual(t, out, 100.0)
		}
	}
}

func TestCalc_IntegralSurvivesSetpointChange(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 1, Ki: 0.5})

	for i := 0; i < 10; i++ {
		_, err := c.Calc(Input{Measurement: 18, Setpoint: 21, Dt: 10 * time.Minute})
		require.NoError(t, err)
	}
	integBefore := c.Snapshot().Integral
	require.Greater(t, integBefore, 0.0)

	_, err := c.Calc(Input{Measurement: 18, Setpoint: 22, Dt: 10 * time.Minute})
	require.NoError(t, err)
	assert.Greater(t, c.Snapshot().Integral, integBefore, "integral keeps accumulating, never resets")
}

func TestCalc_DirectionalAntiWindup(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 10, Ki: 5})

	// Drive hard into the upper limit.
	for i := 0; i < 30; i++ {
		out, err := c.Calc(Input{Measurement: 10, Setpoint: 25, Dt: 10 * time.Minute})
		require.NoError(t, err)
		assert.LessOrEqual(t, out, 100.0)
	}
	saturatedIntegral := c.Snapshot().Integral

	// Further positive error while saturated must not grow the integral.
	_, err := c.Calc(Input{Measurement: 10, Setpoint: 25, Dt: 10 * time.Minute})
	require.NoError(t, err)
	assert.LessOrEqual(t, c.Snapshot().Integral, saturatedIntegral+1e-9)

	// Opposing error winds down even though output is still saturated.
	_, err = c.Calc(Input{Measurement: 30, Setpoint: 25, Dt: 10 * time.Minute})
	require.NoError(t, err)
	assert.Less(t, c.Snapshot().Integral, saturatedIntegral)
}

func TestCalc_IntegralDecayOnOverhang(t *testing.T) {
	plain := New(Config{OutMin: 0, OutMax: 100, DerivFilterAlpha: 0.3, MinDt: 10 * time.Second, OutdoorLagTau: 3 * time.Hour, IntegralDecay: 1}, model.Gains{Ki: 0.5})
	decayed := New(Config{OutMin: 0, OutMax: 100, DerivFilterAlpha: 0.3, MinDt: 10 * time.Second, OutdoorLagTau: 3 * time.Hour, IntegralDecay: 3}, model.Gains{Ki: 0.5})

	// Build up positive integral, then overshoot so error turns negative.
	for _, c := range []*Controller{plain, decayed} {
		for i := 0; i < 10; i++ {
			_, err := c.Calc(Input{Measurement: 19, Setpoint: 21, Dt: 10 * time.Minute})
			require.NoError(t, err)
		}
		_, err := c.Calc(Input{Measurement: 22, Setpoint: 21, Dt: 10 * time.Minute})
		require.NoError(t, err)
	}

	assert.Less(t, decayed.Snapshot().Integral, plain.Snapshot().Integral,
		"decay multiplier unwinds the overhang faster")
}

func TestCalc_DerivativeFrozenBelowMinDt(t *testing.T) {
	c := New(testConfig(), model.Gains{Kd: 1})

	_, err := c.Calc(Input{Measurement: 20, Setpoint: 21, Dt: time.Minute})
	require.NoError(t, err)
	_, err = c.Calc(Input{Measurement: 20.5, Setpoint: 21, Dt: time.Minute})
	require.NoError(t, err)
	frozen := c.Snapshot().DerivFiltered

	// A 1-second tick with a jump would produce a huge raw derivative;
	// the filter must not move.
	_, err = c.Calc(Input{Measurement: 21.5, Setpoint: 21, Dt: time.Second})
	require.NoError(t, err)
	assert.Equal(t, frozen, c.Snapshot().DerivFiltered)
}

func TestCalc_InvalidInputReturnsCachedOutput(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 1, Ki: 0.5})

	var last float64
	for i := 0; i < 5; i++ {
		out, err := c.Calc(Input{Measurement: 18, Setpoint: 21, Dt: 10 * time.Minute})
		require.NoError(t, err)
		last = out
	}

	out, err := c.Calc(Input{Measurement: math.NaN(), Setpoint: 21, Dt: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, last, out)

	out, err = c.Calc(Input{Measurement: 18, Setpoint: math.Inf(1), Dt: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, last, out)

	out, err = c.Calc(Input{Measurement: 18, Setpoint: 21, Dt: time.Minute, OutdoorTemp: ptr(math.NaN())})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, last, out)
}

func TestCalc_BumplessTransfer(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 1, Ki: 0.5})

	c.Activate(42)
	out, err := c.Calc(Input{Measurement: 19, Setpoint: 21, Dt: time.Minute})
	require.NoError(t, err)
	assert.InDelta(t, 42, out, 1e-9, "first active output equals last known output")
}

func TestCalc_FeedForwardFollowsLaggedOutdoor(t *testing.T) {
	c := New(testConfig(), model.Gains{Ke: 0.2})

	// Cold outdoors raises output through the feed-forward term.
	var out float64
	var err error
	for i := 0; i < 5; i++ {
		out, err = c.Calc(Input{Measurement: 21, Setpoint: 21, Dt: 30 * time.Minute, OutdoorTemp: ptr(-5)})
		require.NoError(t, err)
	}
	assert.Greater(t, out, 0.0)

	// Wind amplifies the same delta.
	withWind := New(testConfig(), model.Gains{Ke: 0.2, KeWind: 0.05})
	var windOut float64
	for i := 0; i < 5; i++ {
		windOut, err = withWind.Calc(Input{Measurement: 21, Setpoint: 21, Dt: 30 * time.Minute, OutdoorTemp: ptr(-5), WindSpeed: ptr(8)})
		require.NoError(t, err)
	}
	assert.Greater(t, windOut, out)
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c := New(testConfig(), model.Gains{Kp: 1, Ki: 0.5, Kd: 0.1, Ke: 0.1})
	for i := 0; i < 10; i++ {
		_, err := c.Calc(Input{Measurement: 18 + float64(i)*0.1, Setpoint: 21, Dt: 10 * time.Minute, OutdoorTemp: ptr(2)})
		require.NoError(t, err)
	}

	snap := c.Snapshot()
	restored := New(testConfig(), model.Gains{})
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())

	// Both continue identically from the restored state.
	a, err := c.Calc(Input{Measurement: 19.5, Setpoint: 21, Dt: 10 * time.Minute, OutdoorTemp: ptr(2)})
	require.NoError(t, err)
	b, err := restored.Calc(Input{Measurement: 19.5, Setpoint: 21, Dt: 10 * time.Minute, OutdoorTemp: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
