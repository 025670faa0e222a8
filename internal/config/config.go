package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Rules         RulesConfig         `yaml:"rules"`
	Remote        RemoteConfig        `yaml:"remote"`
	Health        HealthConfig        `yaml:"sensor_health"`
	Door          DoorConfig          `yaml:"door"`
	Keypad        KeypadConfig        `yaml:"keypad"`
	Serial        SerialConfig        `yaml:"serial"`
	Outbox        OutboxConfig        `yaml:"outbox"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Storage       StorageConfig       `yaml:"storage"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Log           string              `yaml:"log"`

	StatusHeartbeatMs uint32 `yaml:"status_heartbeat_ms"`
	TickMs            uint32 `yaml:"tick_ms"`
}

// RulesConfig parameterizes the suspicion scoring rule engine.
type RulesConfig struct {
	NotifyCooldownMs               uint32 `yaml:"notify_cooldown_ms"`
	EntryDelayMs                   uint32 `yaml:"entry_delay_ms"`
	ExitGraceAfterIndoorActivityMs uint32 `yaml:"exit_grace_after_indoor_activity_ms"`
	OutdoorPIRSource               uint8  `yaml:"outdoor_pir_src"`
	CorrelationWindowMs            uint32 `yaml:"correlation_window_ms"`
	SuspicionDecayStepMs           uint32 `yaml:"suspicion_decay_step_ms"`
	SuspicionDecayPoints           uint8  `yaml:"suspicion_decay_points"`
	CriticalLevelEnabled           bool   `yaml:"critical_level_enabled"`
	CriticalFallbackToAlert        bool   `yaml:"critical_fallback_to_alert"`
}

type RemoteConfig struct {
	Token                               string `yaml:"token"`
	AllowWithoutToken                   bool   `yaml:"allow_without_token"`
	RequireNonce                        bool   `yaml:"require_nonce"`
	RequireMonotonicNonce               bool   `yaml:"require_monotonic_nonce"`
	NonceTTLMs                          uint32 `yaml:"nonce_ttl_ms"`
	FailClosedIfNoncePersistenceMissing bool   `yaml:"fail_closed_if_nonce_persistence_unavailable"`
}

type HealthConfig struct {
	Enabled               bool   `yaml:"enabled"`
	CheckPeriodMs         uint32 `yaml:"check_period_ms"`
	PIRStuckActiveMs      uint32 `yaml:"pir_stuck_active_ms"`
	VibStuckActiveMs      uint32 `yaml:"vib_stuck_active_ms"`
	UltrasonicOfflineMs   uint32 `yaml:"ultrasonic_offline_ms"`
	UltrasonicNoEchoLimit uint16 `yaml:"ultrasonic_no_echo_threshold"`
	FaultNotifyCooldownMs uint32 `yaml:"fault_notify_cooldown_ms"`
	FailClosedOnFault     bool   `yaml:"fail_closed_on_sensor_fault"`
}

// DoorConfig drives the auto-relock session that follows an unlock.
type DoorConfig struct {
	UnlockTimeoutMs     uint32 `yaml:"unlock_timeout_ms"`
	UnlockWarnBeforeMs  uint32 `yaml:"unlock_warn_before_ms"`
	OpenHoldWarnAfterMs uint32 `yaml:"open_hold_warn_after_ms"`
	WarnRetriggerMs     uint32 `yaml:"warn_retrigger_ms"`
	WindowLockInstalled bool   `yaml:"window_lock_installed"`
}

type KeypadConfig struct {
	BadAttemptLimit uint8  `yaml:"bad_attempt_limit"`
	LockoutMs       uint32 `yaml:"lockout_ms"`
	AllowArm        bool   `yaml:"allow_keypad_arm"`
}

// SerialConfig gates events injected from synthetic (test tooling) sources.
type SerialConfig struct {
	AllowModeCommands   bool `yaml:"allow_serial_mode_commands"`
	AllowManualCommands bool `yaml:"allow_serial_manual_commands"`
	AllowSensorCommands bool `yaml:"allow_serial_sensor_commands"`
}

type OutboxConfig struct {
	Transport          string `yaml:"transport"`
	PublishQueueSize   int    `yaml:"publish_queue_size"`
	CommandQueueSize   int    `yaml:"command_queue_size"`
	StoreCapacity      int    `yaml:"store_capacity"`
	FlushBurst         int    `yaml:"flush_burst"`
	DrainBurst         int    `yaml:"drain_burst"`
	MetricsPeriodMs    uint32 `yaml:"metrics_period_ms"`
	ReconnectBackoffMs uint32 `yaml:"reconnect_backoff_ms"`
	LoopPeriodMs       uint32 `yaml:"loop_period_ms"`
	Persist            bool   `yaml:"persist"`
}

type MQTTConfig struct {
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	Username  string `yaml:"username"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Prefix  string   `yaml:"prefix"`
	GroupID string   `yaml:"group_id"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
	Name      string `yaml:"name"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	NVSFile string `yaml:"nvs_file"`
}

type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// UltrasonicWired marks which ranging channels exist; unwired ones never report offline.
	UltrasonicWired []bool `yaml:"ultrasonic_wired"`
}

func DefaultConfig() *Config {
	return &Config{
		Rules: RulesConfig{
			NotifyCooldownMs:               3000,
			EntryDelayMs:                   15000,
			ExitGraceAfterIndoorActivityMs: 30000,
			OutdoorPIRSource:               3,
			CorrelationWindowMs:            20000,
			SuspicionDecayStepMs:           5000,
			SuspicionDecayPoints:           8,
			CriticalFallbackToAlert:        true,
		},
		Remote: RemoteConfig{
			RequireNonce:                        true,
			RequireMonotonicNonce:               true,
			NonceTTLMs:                          180000,
			FailClosedIfNoncePersistenceMissing: true,
		},
		Health: HealthConfig{
			Enabled:               true,
			CheckPeriodMs:         2000,
			PIRStuckActiveMs:      180000,
			VibStuckActiveMs:      15000,
			UltrasonicOfflineMs:   30000,
			UltrasonicNoEchoLimit: 80,
			FaultNotifyCooldownMs: 60000,
			FailClosedOnFault:     true,
		},
		Door: DoorConfig{
			UnlockTimeoutMs:     15000,
			UnlockWarnBeforeMs:  5000,
			OpenHoldWarnAfterMs: 10000,
			WarnRetriggerMs:     350,
			WindowLockInstalled: true,
		},
		Keypad: KeypadConfig{
			BadAttemptLimit: 3,
			LockoutMs:       300000,
		},
		Outbox: OutboxConfig{
			Transport:          "mqtt",
			PublishQueueSize:   16,
			CommandQueueSize:   8,
			StoreCapacity:      64,
			FlushBurst:         8,
			DrainBurst:         8,
			MetricsPeriodMs:    10000,
			ReconnectBackoffMs: 3000,
			LoopPeriodMs:       10,
			Persist:            true,
		},
		MQTT: MQTTConfig{
			ClientID:  "zoneguard",
			Host:      "localhost",
			Port:      1883,
			Keepalive: 15,
			QOS:       1,
			Retain:    true,
			Prefix:    "zoneguard",
		},
		Kafka: KafkaConfig{
			Prefix:  "zoneguard",
			GroupID: "zoneguard",
		},
		HomeAssistant: HomeAssistantConfig{
			Prefix: "homeassistant",
			Name:   "Zoneguard",
		},
		Storage: StorageConfig{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     "file:zoneguard.db?_pragma=busy_timeout(5000)",
		},
		Gateway: GatewayConfig{
			Host:            "localhost",
			Port:            10002,
			UltrasonicWired: []bool{true, false, false},
		},
		Log:               "info",
		StatusHeartbeatMs: 5000,
		TickMs:            10,
	}
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults restores values that must never be zero after an explicit zero in the file.
func applyDefaults(config *Config) {
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "zoneguard"
	}
	if config.MQTT.Host == "" {
		config.MQTT.Host = "localhost"
	}
	if config.MQTT.Port == 0 {
		config.MQTT.Port = 1883
	}
	if config.MQTT.Keepalive == 0 {
		config.MQTT.Keepalive = 15
	}
	if config.MQTT.Prefix == "" {
		config.MQTT.Prefix = "zoneguard"
	}
	if config.Kafka.Prefix == "" {
		config.Kafka.Prefix = "zoneguard"
	}
	if config.HomeAssistant.Prefix == "" {
		config.HomeAssistant.Prefix = "homeassistant"
	}
	if config.Log == "" {
		config.Log = "info"
	}
	if config.Outbox.Transport == "" {
		config.Outbox.Transport = "mqtt"
	}
	if config.Outbox.PublishQueueSize <= 0 {
		config.Outbox.PublishQueueSize = 16
	}
	if config.Outbox.CommandQueueSize <= 0 {
		config.Outbox.CommandQueueSize = 8
	}
	if config.Outbox.StoreCapacity <= 0 {
		config.Outbox.StoreCapacity = 64
	}
	if config.Outbox.FlushBurst <= 0 {
		config.Outbox.FlushBurst = 8
	}
	if config.Outbox.DrainBurst <= 0 {
		config.Outbox.DrainBurst = 8
	}
	if config.Outbox.LoopPeriodMs == 0 {
		config.Outbox.LoopPeriodMs = 10
	}
	if config.StatusHeartbeatMs == 0 {
		config.StatusHeartbeatMs = 5000
	}
	if config.TickMs == 0 {
		config.TickMs = 10
	}
	if config.Gateway.Port == 0 {
		config.Gateway.Port = 10002
	}
	config.Remote.Token = strings.ToLower(strings.TrimSpace(config.Remote.Token))
}

func Validate(config *Config) error {
	switch strings.ToLower(config.Outbox.Transport) {
	case "mqtt", "none":
	case "kafka":
		if len(config.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers required when outbox.transport is kafka")
		}
	default:
		return fmt.Errorf("unsupported outbox.transport: %s", config.Outbox.Transport)
	}
	if config.Storage.Enabled {
		switch strings.ToLower(config.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage.driver: %s", config.Storage.Driver)
		}
	}
	if config.Remote.RequireNonce && config.Remote.NonceTTLMs == 0 {
		return errors.New("remote.nonce_ttl_ms must be > 0 when remote.require_nonce is true")
	}
	if config.Health.Enabled && config.Health.CheckPeriodMs == 0 {
		return errors.New("sensor_health.check_period_ms must be > 0 when sensor_health.enabled is true")
	}
	if config.Door.WarnRetriggerMs == 0 {
		return errors.New("door.warn_retrigger_ms must be > 0")
	}
	return nil
}
