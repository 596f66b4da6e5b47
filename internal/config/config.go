package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
)

type Config struct {
	Redis    RedisConfig
	MQTT     MQTTConfig
	Server   ServerConfig
	Snapshot SnapshotConfig
	Alert    AlertConfig
	Log      LogConfig

	// ZonesFile points at the YAML zone inventory.
	ZonesFile string
}

type RedisConfig struct {
	URL string
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

type ServerConfig struct {
	HealthPort int
}

type SnapshotConfig struct {
	// MinInterval debounces snapshot writes per zone.
	MinInterval time.Duration
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		MQTT: MQTTConfig{
			BrokerURL:   getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "climated"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "climate"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Snapshot: SnapshotConfig{
			MinInterval: time.Duration(getEnvInt("SNAPSHOT_MIN_INTERVAL_SEC", 60)) * time.Second,
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MIN", 30)) * time.Minute,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		ZonesFile: getEnv("ZONES_FILE", "zones.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL is required")
	}
	if c.ZonesFile == "" {
		return fmt.Errorf("ZONES_FILE is required")
	}
	return nil
}

// ZoneSpec is one entry of the YAML zone inventory.
type ZoneSpec struct {
	ID          string  `yaml:"id"`
	HeatingType string  `yaml:"heating_type"`
	Mode        string  `yaml:"mode"`
	Setpoint    float64 `yaml:"setpoint"`

	Kp     float64 `yaml:"kp"`
	Ki     float64 `yaml:"ki"`
	Kd     float64 `yaml:"kd"`
	Ke     float64 `yaml:"ke"`
	KeWind float64 `yaml:"ke_wind"`

	AutoApply     bool    `yaml:"auto_apply"`
	SetbackOffset float64 `yaml:"setback_offset"`
	PreheatOffset float64 `yaml:"preheat_offset"`
}

// Zones is the parsed zone inventory.
type Zones struct {
	Zones []ZoneSpec `yaml:"zones"`
}

// LoadZones reads and validates the YAML zone inventory.
func LoadZones(path string) (*Zones, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}
	return ParseZones(data)
}

// ParseZones parses a YAML zone inventory.
func ParseZones(data []byte) (*Zones, error) {
	var z Zones
	if err := yaml.Unmarshal(data, &z); err != nil {
		return nil, fmt.Errorf("parse zones yaml: %w", err)
	}
	if len(z.Zones) == 0 {
		return nil, fmt.Errorf("zones file defines no zones")
	}

	seen := make(map[string]bool, len(z.Zones))
	for i := range z.Zones {
		spec := &z.Zones[i]
		if spec.ID == "" {
			return nil, fmt.Errorf("zone %d: id is required", i)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("zone %q: duplicate id", spec.ID)
		}
		seen[spec.ID] = true
		if _, err := model.ParseHeatingType(spec.HeatingType); err != nil {
			return nil, fmt.Errorf("zone %q: %w", spec.ID, err)
		}
		if spec.Mode == "" {
			spec.Mode = string(model.ModeHeat)
		}
		if spec.Setpoint == 0 {
			spec.Setpoint = 20.0
		}
		if spec.Kp == 0 {
			spec.Kp = 1.0
		}
		if spec.Ki == 0 {
			spec.Ki = 0.1
		}
	}
	return &z, nil
}

// Gains returns the configured gain set for the zone entry.
func (s ZoneSpec) Gains() model.Gains {
	return model.Gains{Kp: s.Kp, Ki: s.Ki, Kd: s.Kd, Ke: s.Ke, KeWind: s.KeWind}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
