package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

type dutyPayload struct {
	Duty float64   `json:"duty"`
	At   time.Time `json:"at"`
}

// tuningNotice is the envelope for all tuner lifecycle messages on the
// <prefix>/<zone>/tuning topic. Event names the variant; the other fields
// are filled per variant.
type tuningNotice struct {
	Event     string       `json:"event"`
	Gains     *model.Gains `json:"gains,omitempty"`
	Old       *model.Gains `json:"old,omitempty"`
	New       *model.Gains `json:"new,omitempty"`
	Restored  *model.Gains `json:"restored,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Auto      bool         `json:"auto,omitempty"`
	SessionID *uuid.UUID   `json:"session_id,omitempty"`
	Rate      float64      `json:"rate,omitempty"`
	Expected  float64      `json:"expected,omitempty"`
	At        time.Time    `json:"at,omitempty"`
}

// encodeOutput maps one output event to its topic kind and payload.
// Unrecognized events return ok false and are not published.
func encodeOutput(ev any) (zoneID, kind string, payload any, ok bool) {
	switch e := ev.(type) {
	case event.ControlOutput:
		return e.Zone, "duty", dutyPayload{Duty: e.Duty, At: e.At}, true
	case event.CycleCompleted:
		return e.Zone, "cycle", e.Record, true
	case event.AdjustmentProposed:
		g := e.Gains
		return e.Zone, "tuning", tuningNotice{Event: "adjustment_proposed", Gains: &g, Reason: e.Reason}, true
	case event.AdjustmentApplied:
		oldG, newG := e.Old, e.New
		return e.Zone, "tuning", tuningNotice{
			Event: "adjustment_applied",
			Old:   &oldG, New: &newG,
			Reason: e.Reason, Auto: e.Auto, At: e.At,
		}, true
	case event.AdjustmentBlocked:
		return e.Zone, "tuning", tuningNotice{Event: "adjustment_blocked", Reason: e.Reason}, true
	case event.RollbackPerformed:
		g := e.Restored
		return e.Zone, "tuning", tuningNotice{Event: "rollback", Restored: &g, Reason: e.Reason}, true
	case event.SessionStalled:
		id := e.SessionID
		return e.Zone, "tuning", tuningNotice{Event: "session_stalled", SessionID: &id}, true
	case event.UndershootDetected:
		return e.Zone, "tuning", tuningNotice{Event: "undershoot", Rate: e.Rate, Expected: e.Expected}, true
	}
	return "", "", nil, false
}

// Publish forwards one zone output event to the broker. Safe to use as the
// zone emit sink; it never blocks on broker round trips.
func (b *Bridge) Publish(ev any) {
	zoneID, kind, payload, ok := encodeOutput(ev)
	if !ok {
		return
	}
	if b.client == nil || !b.client.IsConnected() {
		b.logger.Debug("dropping publish while disconnected", "zone", zoneID, "kind", kind)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal publish payload", "zone", zoneID, "kind", kind, "error", err)
		return
	}
	topic := b.cfg.TopicPrefix + "/" + zoneID + "/" + kind
	token := b.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			b.logger.Warn("publish failed", "topic", topic, "error", token.Error())
		}
	}()
}
