package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

// Message kinds routed under <prefix>/<zone>/<kind>.
const (
	kindTemperature = "temperature"
	kindDemand      = "demand"
	kindSetpoint    = "setpoint"
	kindMode        = "mode"
	kindContact     = "contact"
	kindOverride    = "override"
	kindOutdoor     = "outdoor"
)

type temperaturePayload struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at,omitempty"`
}

type demandPayload struct {
	Demand float64   `json:"demand"`
	Mode   string    `json:"mode,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

type setpointPayload struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at,omitempty"`
}

type modePayload struct {
	Mode string    `json:"mode"`
	At   time.Time `json:"at,omitempty"`
}

type contactPayload struct {
	Open bool      `json:"open"`
	At   time.Time `json:"at,omitempty"`
}

type overridePayload struct {
	Kind   string    `json:"kind"`
	Active bool      `json:"active"`
	At     time.Time `json:"at,omitempty"`
}

type outdoorPayload struct {
	Temperature float64  `json:"temperature"`
	Wind        *float64 `json:"wind,omitempty"`
}

// splitTopic extracts the zone and kind from <prefix>/<zone>/<kind>.
func splitTopic(prefix, topic string) (zone, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// zoneState is what decoding needs from the target zone. SetpointChanged
// and ModeChanged carry the previous value, which only the zone knows.
type zoneState interface {
	Setpoint() float64
	Mode() model.Mode
}

// decodeEvent turns one payload into a zone input event. The outdoor kind
// is not an event and is handled by the bridge directly.
func decodeEvent(kind string, payload []byte, now time.Time, z zoneState) (any, error) {
	switch kind {
	case kindTemperature:
		var p temperaturePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("temperature payload: %w", err)
		}
		return event.TemperatureSample{At: orNow(p.At, now), Value: p.Value}, nil

	case kindDemand:
		var p demandPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("demand payload: %w", err)
		}
		if p.Demand <= 0 {
			return event.DemandEnded{At: orNow(p.At, now)}, nil
		}
		mode := z.Mode()
		if p.Mode != "" {
			m := model.Mode(p.Mode)
			if !m.Valid() {
				return nil, fmt.Errorf("demand payload: invalid mode %q", p.Mode)
			}
			mode = m
		}
		return event.CycleStarted{At: orNow(p.At, now), Mode: mode, Demand: p.Demand}, nil

	case kindSetpoint:
		var p setpointPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("setpoint payload: %w", err)
		}
		return event.SetpointChanged{At: orNow(p.At, now), Old: z.Setpoint(), New: p.Value}, nil

	case kindMode:
		var p modePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("mode payload: %w", err)
		}
		m := model.Mode(p.Mode)
		if !m.Valid() {
			return nil, fmt.Errorf("mode payload: invalid mode %q", p.Mode)
		}
		return event.ModeChanged{At: orNow(p.At, now), Old: z.Mode(), New: m}, nil

	case kindContact:
		var p contactPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("contact payload: %w", err)
		}
		if p.Open {
			return event.ContactPaused{At: orNow(p.At, now)}, nil
		}
		return event.ContactResumed{At: orNow(p.At, now)}, nil

	case kindOverride:
		var p overridePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("override payload: %w", err)
		}
		if p.Kind == "" {
			return nil, fmt.Errorf("override payload: kind is required")
		}
		if p.Active {
			return event.OverrideSet{At: orNow(p.At, now), Kind: p.Kind}, nil
		}
		return event.OverrideCleared{At: orNow(p.At, now), Kind: p.Kind}, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}

func decodeOutdoor(payload []byte) (outdoorPayload, error) {
	var p outdoorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return outdoorPayload{}, fmt.Errorf("outdoor payload: %w", err)
	}
	return p, nil
}

func orNow(at, now time.Time) time.Time {
	if at.IsZero() {
		return now
	}
	return at
}
