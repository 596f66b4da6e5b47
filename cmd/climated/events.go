package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/alert"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/event"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/mqtt"
)

const alertSendTimeout = 15 * time.Second

// eventSink fans zone output events out to the MQTT bridge, the alerter
// and the snapshot persister. It runs synchronously on the zone
// goroutine, so alert delivery is pushed to its own goroutine.
type eventSink struct {
	bridge    *mqtt.Bridge
	alerter   *alert.MultiAlerter
	persister *persister
	logger    *slog.Logger
}

func newEventSink(bridge *mqtt.Bridge, alerter *alert.MultiAlerter, p *persister, logger *slog.Logger) *eventSink {
	return &eventSink{
		bridge:    bridge,
		alerter:   alerter,
		persister: p,
		logger:    logger.With("component", "events"),
	}
}

func (s *eventSink) Handle(ev any) {
	s.bridge.Publish(ev)

	switch e := ev.(type) {
	case event.CycleCompleted:
		s.persister.MarkDirty(e.Zone)
	case event.AdjustmentApplied:
		s.persister.MarkDirty(e.Zone)
		s.send(alert.Alert{
			Type:    alert.AlertTypeAdjustment,
			Zone:    e.Zone,
			Title:   "Gains adjusted",
			Message: fmt.Sprintf("Zone %s gains adjusted (%s)", e.Zone, e.Reason),
			Fields: map[string]string{
				"old":    formatGains(e.Old),
				"new":    formatGains(e.New),
				"reason": e.Reason,
				"auto":   fmt.Sprintf("%t", e.Auto),
			},
		})
	case event.AdjustmentBlocked:
		s.send(alert.Alert{
			Type:    alert.AlertTypeBlocked,
			Zone:    e.Zone,
			Title:   "Adjustment blocked",
			Message: fmt.Sprintf("Zone %s auto-apply blocked by %s", e.Zone, e.Reason),
			Fields:  map[string]string{"reason": e.Reason},
		})
	case event.RollbackPerformed:
		s.persister.MarkDirty(e.Zone)
		s.send(alert.Alert{
			Type:    alert.AlertTypeRollback,
			Zone:    e.Zone,
			Title:   "Gains rolled back",
			Message: fmt.Sprintf("Zone %s rolled back to previous gains (%s)", e.Zone, e.Reason),
			Fields: map[string]string{
				"restored": formatGains(e.Restored),
				"reason":   e.Reason,
			},
		})
	case event.SessionStalled:
		s.send(alert.Alert{
			Type:    alert.AlertTypeStalled,
			Zone:    e.Zone,
			Title:   "Recovery session stalled",
			Message: fmt.Sprintf("Zone %s recovery session made no progress", e.Zone),
			Fields:  map[string]string{"session_id": e.SessionID.String()},
		})
	case event.UndershootDetected:
		s.send(alert.Alert{
			Type:    alert.AlertTypeUndershoot,
			Zone:    e.Zone,
			Title:   "Zone heating too slowly",
			Message: fmt.Sprintf("Zone %s is rising at %.2f C/h, expected %.2f C/h", e.Zone, e.Rate, e.Expected),
			Fields: map[string]string{
				"rate":     fmt.Sprintf("%.2f", e.Rate),
				"expected": fmt.Sprintf("%.2f", e.Expected),
			},
		})
	}
}

func (s *eventSink) send(a alert.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
		defer cancel()
		if err := s.alerter.Send(ctx, a); err != nil {
			s.logger.Warn("alert delivery failed", "type", a.Type, "zone", a.Zone, "error", err)
		}
	}()
}

func formatGains(g model.Gains) string {
	return fmt.Sprintf("kp=%.3f ki=%.3f kd=%.3f ke=%.3f ke_wind=%.3f", g.Kp, g.Ki, g.Kd, g.Ke, g.KeWind)
}
