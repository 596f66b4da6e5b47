package snapshot

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/control"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/ratelearn"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/tuning"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := Snapshot{
		Zone:     "living_room",
		Mode:     model.ModeHeat,
		Setpoint: 21.5,
		Control: control.State{
			Gains:      model.Gains{Kp: 1.2, Ki: 0.08, Kd: 0.2, Ke: 0.04},
			Integral:   12.5,
			PropAccum:  -3.0,
			HasLast:    true,
			LastOutput: 42.0,
		},
		Tuning: tuning.State{
			Gains:      model.Gains{Kp: 1.2, Ki: 0.08, Kd: 0.2, Ke: 0.04},
			Baseline:   model.Gains{Kp: 1.0, Ki: 0.1, Kd: 0.1, Ke: 0.05},
			Confidence: map[model.Mode]float64{model.ModeHeat: 0.6, model.ModeCool: 0.2},
			History:    map[model.Mode][]model.CycleRecord{},
			ChangeLog: []model.GainChange{{
				From:      model.Gains{Kp: 1.0, Ki: 0.1, Kd: 0.1, Ke: 0.05},
				To:        model.Gains{Kp: 1.2, Ki: 0.08, Kd: 0.2, Ke: 0.04},
				Reason:    "avg overshoot above threshold",
				Auto:      true,
				AppliedAt: now,
			}},
		},
		Rates: ratelearn.State{
			Bins: func() [][]model.RateObservation {
				bins := make([][]model.RateObservation, ratelearn.NumBins)
				bins[4] = []model.RateObservation{{Rate: 1.2, Source: model.SourceSession, ObservedAt: now}}
				return bins
			}(),
			ConsecStalls: 1,
		},
	}

	data, err := Encode(s)
	require.NoError(t, err)

	got := Decode(data, slog.Default())
	assert.Equal(t, CurrentVersion, got.Version)
	assert.Equal(t, s.Zone, got.Zone)
	assert.Equal(t, s.Setpoint, got.Setpoint)
	assert.Equal(t, s.Control, got.Control)
	assert.Equal(t, s.Tuning.Confidence, got.Tuning.Confidence)
	assert.Equal(t, s.Tuning.ChangeLog, got.Tuning.ChangeLog)
	assert.Equal(t, s.Rates.Bins[4], got.Rates.Bins[4])
}

func TestDecode_MigratesV1ToCurrent(t *testing.T) {
	blob := []byte(`{
		"version": 1,
		"zone": "bedroom",
		"mode": "heat",
		"setpoint": 19.0,
		"gains": {"kp": 1.4, "ki": 0.05, "kd": 0.3, "ke": 0.02, "ke_wind": 0},
		"integral": 7.25
	}`)

	s := Decode(blob, slog.Default())
	assert.Equal(t, CurrentVersion, s.Version)
	assert.Equal(t, "bedroom", s.Zone)
	assert.Equal(t, 19.0, s.Setpoint)
	assert.Equal(t, 1.4, s.Control.Gains.Kp)
	assert.Equal(t, 7.25, s.Control.Integral)
	assert.Empty(t, s.Tuning.ChangeLog)
	assert.Nil(t, s.Rates.Bins)
}

func TestDecode_MigratesV2ConfidenceScalar(t *testing.T) {
	blob := []byte(`{
		"version": 2,
		"zone": "office",
		"setpoint": 20.0,
		"control": {"gains": {"kp": 1.0}, "integral": 2.0},
		"tuning": {"confidence": 0.75}
	}`)

	s := Decode(blob, slog.Default())
	assert.Equal(t, CurrentVersion, s.Version)
	assert.Equal(t, 0.75, s.Tuning.Confidence[model.ModeHeat])
	assert.Equal(t, 0.2, s.Tuning.Confidence[model.ModeCool])
	assert.Equal(t, 2.0, s.Control.Integral)
}

func TestDecode_CorruptInputFallsBackToDefaults(t *testing.T) {
	for name, blob := range map[string][]byte{
		"not json":        []byte(`{{{`),
		"bad version":     []byte(`{"version": "three"}`),
		"unknown version": []byte(`{"version": 99}`),
		"zero version":    []byte(`{"zone": "x"}`),
	} {
		t.Run(name, func(t *testing.T) {
			s := Decode(blob, slog.Default())
			assert.Equal(t, CurrentVersion, s.Version)
			assert.Empty(t, s.Zone)
		})
	}
}
