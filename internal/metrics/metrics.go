package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control-loop counters, gauges and histograms, partitioned by zone.

var (
	// Controller
	ControllerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "controller",
		Name:      "ticks_total",
		Help:      "Total controller ticks",
	}, []string{"zone"})

	ControllerInvalidInputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "controller",
		Name:      "invalid_inputs_total",
		Help:      "Total non-finite sensor inputs rejected by the controller",
	}, []string{"zone"})

	ControllerOutput = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "climate",
		Subsystem: "controller",
		Name:      "output_percent",
		Help:      "Latest controller output duty",
	}, []string{"zone"})

	ControllerSaturatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "controller",
		Name:      "saturated_total",
		Help:      "Total ticks with output clamped at a bound",
	}, []string{"zone"})

	ZoneTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "climate",
		Subsystem: "zone",
		Name:      "temperature_celsius",
		Help:      "Latest zone temperature",
	}, []string{"zone"})

	ZoneSetpoint = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "climate",
		Subsystem: "zone",
		Name:      "setpoint_celsius",
		Help:      "Current zone setpoint",
	}, []string{"zone"})

	// Cycle tracker
	CyclesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "cycle",
		Name:      "completed_total",
		Help:      "Total finalized cycles",
	}, []string{"zone", "mode", "class"})

	CycleOvershoot = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "climate",
		Subsystem: "cycle",
		Name:      "overshoot_celsius",
		Help:      "Controllable overshoot per finalized cycle",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3},
	}, []string{"zone", "mode"})

	CycleSettlingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "climate",
		Subsystem: "cycle",
		Name:      "settling_seconds",
		Help:      "Settling time per finalized cycle",
		Buckets:   []float64{300, 600, 1200, 1800, 2700, 3600, 5400, 7200, 10800, 14400},
	}, []string{"zone", "mode"})

	CycleOscillations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "climate",
		Subsystem: "cycle",
		Name:      "oscillations",
		Help:      "Oscillation count per finalized cycle",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	}, []string{"zone", "mode"})

	// Tuner
	TunerAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "tuner",
		Name:      "adjustments_total",
		Help:      "Total gain adjustments applied",
	}, []string{"zone", "auto"})

	TunerBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "tuner",
		Name:      "blocked_total",
		Help:      "Total auto-applies blocked by a safety gate",
	}, []string{"zone", "reason"})

	TunerRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "tuner",
		Name:      "rollbacks_total",
		Help:      "Total gain rollbacks",
	}, []string{"zone"})

	TunerConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "climate",
		Subsystem: "tuner",
		Name:      "confidence",
		Help:      "Tuning confidence per mode",
	}, []string{"zone", "mode"})

	// Rate learner
	SessionsStalledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "ratelearn",
		Name:      "sessions_stalled_total",
		Help:      "Total recovery sessions ending stalled",
	}, []string{"zone"})

	UndershootDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "ratelearn",
		Name:      "undershoot_detected_total",
		Help:      "Total live-rate undershoot detections",
	}, []string{"zone"})

	// Snapshot persistence
	SnapshotSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "snapshot",
		Name:      "saves_total",
		Help:      "Total snapshot writes to the store",
	}, []string{"zone"})

	SnapshotSaveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "snapshot",
		Name:      "save_errors_total",
		Help:      "Total snapshot write failures",
	}, []string{"zone"})

	// MQTT bridge
	MQTTMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "mqtt",
		Name:      "messages_total",
		Help:      "Total MQTT messages decoded into events",
	}, []string{"zone", "kind"})

	MQTTDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "mqtt",
		Name:      "decode_errors_total",
		Help:      "Total MQTT payloads that failed to decode",
	}, []string{"kind"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "climate",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
