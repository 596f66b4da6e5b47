package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MQTT_BROKER_URL", "tcp://localhost:1883")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "climated", cfg.MQTT.ClientID)
	assert.Equal(t, "climate", cfg.MQTT.TopicPrefix)
	assert.Empty(t, cfg.MQTT.Username)
	assert.Empty(t, cfg.MQTT.Password)
	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Equal(t, 60*time.Second, cfg.Snapshot.MinInterval)
	assert.Empty(t, cfg.Alert.SlackWebhookURL)
	assert.Empty(t, cfg.Alert.WebhookURL)
	assert.Equal(t, 30*time.Minute, cfg.Alert.Cooldown)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "zones.yaml", cfg.ZonesFile)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://redis:6380")
	t.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "climated-test")
	t.Setenv("MQTT_TOPIC_PREFIX", "home/climate")
	t.Setenv("MQTT_USERNAME", "climate")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("HEALTH_PORT", "9090")
	t.Setenv("SNAPSHOT_MIN_INTERVAL_SEC", "15")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("ALERT_WEBHOOK_URL", "https://alerts.example.com/hook")
	t.Setenv("ALERT_COOLDOWN_MIN", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ZONES_FILE", "/etc/climated/zones.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://redis:6380", cfg.Redis.URL)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "climated-test", cfg.MQTT.ClientID)
	assert.Equal(t, "home/climate", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "climate", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, 9090, cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Snapshot.MinInterval)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Alert.SlackWebhookURL)
	assert.Equal(t, "https://alerts.example.com/hook", cfg.Alert.WebhookURL)
	assert.Equal(t, 5*time.Minute, cfg.Alert.Cooldown)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/etc/climated/zones.yaml", cfg.ZonesFile)
}

func TestValidate_MissingBrokerURL(t *testing.T) {
	cfg := &Config{ZonesFile: "zones.yaml"}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_BROKER_URL")
}

func TestValidate_MissingZonesFile(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{BrokerURL: "tcp://localhost:1883"}}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZONES_FILE")
}

func TestParseZones_Valid(t *testing.T) {
	data := []byte(`
zones:
  - id: living_room
    heating_type: radiator
    mode: heat
    setpoint: 21.5
    kp: 1.4
    ki: 0.12
    kd: 0.3
    ke: 0.05
    ke_wind: 0.01
    auto_apply: true
    setback_offset: -2.0
    preheat_offset: 0.5
  - id: bedroom
    heating_type: floor
`)

	z, err := ParseZones(data)
	require.NoError(t, err)
	require.Len(t, z.Zones, 2)

	living := z.Zones[0]
	assert.Equal(t, "living_room", living.ID)
	assert.Equal(t, "radiator", living.HeatingType)
	assert.Equal(t, "heat", living.Mode)
	assert.Equal(t, 21.5, living.Setpoint)
	assert.True(t, living.AutoApply)
	assert.Equal(t, -2.0, living.SetbackOffset)
	assert.Equal(t, 0.5, living.PreheatOffset)
	assert.Equal(t, model.Gains{Kp: 1.4, Ki: 0.12, Kd: 0.3, Ke: 0.05, KeWind: 0.01}, living.Gains())
}

func TestParseZones_Defaults(t *testing.T) {
	data := []byte(`
zones:
  - id: bedroom
    heating_type: floor
`)

	z, err := ParseZones(data)
	require.NoError(t, err)
	require.Len(t, z.Zones, 1)

	bedroom := z.Zones[0]
	assert.Equal(t, string(model.ModeHeat), bedroom.Mode)
	assert.Equal(t, 20.0, bedroom.Setpoint)
	assert.Equal(t, 1.0, bedroom.Kp)
	assert.Equal(t, 0.1, bedroom.Ki)
	assert.False(t, bedroom.AutoApply)
}

func TestParseZones_DuplicateID(t *testing.T) {
	data := []byte(`
zones:
  - id: living_room
    heating_type: radiator
  - id: living_room
    heating_type: radiator
`)

	_, err := ParseZones(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestParseZones_MissingID(t *testing.T) {
	data := []byte(`
zones:
  - heating_type: radiator
`)

	_, err := ParseZones(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestParseZones_UnknownHeatingType(t *testing.T) {
	data := []byte(`
zones:
  - id: attic
    heating_type: fireplace
`)

	_, err := ParseZones(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown heating type")
}

func TestParseZones_Empty(t *testing.T) {
	_, err := ParseZones([]byte("zones: []"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no zones")
}

func TestParseZones_BadYAML(t *testing.T) {
	_, err := ParseZones([]byte("zones: [unclosed"))
	require.Error(t, err)
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not_a_number")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))
}

func TestGetEnvInt_ValidValue(t *testing.T) {
	t.Setenv("TEST_INT", "99")
	assert.Equal(t, 99, getEnvInt("TEST_INT", 42))
}
