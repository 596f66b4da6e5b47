package model

import "fmt"

// Gains is the full controller gain set. Kp/Ki/Kd are the PID gains
// (per-hour time base); Ke and KeWind scale the outdoor feed-forward term.
type Gains struct {
	Kp     float64 `json:"kp"`
	Ki     float64 `json:"ki"`
	Kd     float64 `json:"kd"`
	Ke     float64 `json:"ke"`
	KeWind float64 `json:"ke_wind"`
}

// GainBounds is the numeric envelope gains must stay inside. Adjustments
// exceeding a bound are clamped, never applied raw.
type GainBounds struct {
	KpMin, KpMax         float64
	KiMin, KiMax         float64
	KdMin, KdMax         float64
	KeMin, KeMax         float64
	KeWindMin, KeWindMax float64
}

// DefaultGainBounds covers the usable range for residential zones.
func DefaultGainBounds() GainBounds {
	return GainBounds{
		KpMin: 0.05, KpMax: 5.0,
		KiMin: 0.001, KiMax: 2.0,
		KdMin: 0, KdMax: 1.0,
		KeMin: 0, KeMax: 0.5,
		KeWindMin: 0, KeWindMax: 0.1,
	}
}

// Clamp returns the gains forced into bounds and whether any component had
// to be clamped.
func (g Gains) Clamp(b GainBounds) (Gains, bool) {
	clamped := false
	clampOne := func(v, lo, hi float64) float64 {
		if v < lo {
			clamped = true
			return lo
		}
		if v > hi {
			clamped = true
			return hi
		}
		return v
	}
	out := Gains{
		Kp:     clampOne(g.Kp, b.KpMin, b.KpMax),
		Ki:     clampOne(g.Ki, b.KiMin, b.KiMax),
		Kd:     clampOne(g.Kd, b.KdMin, b.KdMax),
		Ke:     clampOne(g.Ke, b.KeMin, b.KeMax),
		KeWind: clampOne(g.KeWind, b.KeWindMin, b.KeWindMax),
	}
	return out, clamped
}

// Drift reports the largest relative change of any component against a
// baseline, used for the cumulative-drift safety gate.
func (g Gains) Drift(baseline Gains) float64 {
	max := 0.0
	for _, pair := range [][2]float64{
		{g.Kp, baseline.Kp},
		{g.Ki, baseline.Ki},
		{g.Kd, baseline.Kd},
	} {
		cur, base := pair[0], pair[1]
		if base == 0 {
			continue
		}
		d := cur/base - 1
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

func (g Gains) String() string {
	return fmt.Sprintf("kp=%.3f ki=%.3f kd=%.3f ke=%.3f ke_wind=%.3f", g.Kp, g.Ki, g.Kd, g.Ke, g.KeWind)
}
