package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/Muhammad-Fauzan22/gatemate-iot/buttons"
	"github.com/Muhammad-Fauzan22/gatemate-iot/eventpipe"
	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
	"github.com/Muhammad-Fauzan22/gatemate-iot/indicator"
	"github.com/Muhammad-Fauzan22/gatemate-iot/mqtt"
	"github.com/Muhammad-Fauzan22/gatemate-iot/relay"
	"github.com/Muhammad-Fauzan22/gatemate-iot/remote"
	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
	"github.com/Muhammad-Fauzan22/gatemate-iot/watchdog"
)

const defaultConfigFile = "gatemate.yml"

// Config is the main configuration structure for GateMate.
type Config struct {
	// General settings
	DeviceID        string        `yaml:"device_id"`
	StateDir        string        `yaml:"state_dir"`
	LogLevel        string        `yaml:"log_level"`
	CommandCooldown time.Duration `yaml:"command_cooldown"`
	CommandsPerMin  int           `yaml:"commands_per_minute"`

	// Motion controller and safety supervisor
	Gate   gate.Config  `yaml:"gate"`
	Safety SafetyConfig `yaml:"safety"`

	// MQTT connection and topics
	MQTT MQTTConfig `yaml:"mqtt"`

	// Hardware
	Relay     relay.Config     `yaml:"relay"`
	Sensor    sensor.Config    `yaml:"sensor"`
	Indicator indicator.Config `yaml:"indicator"`
	Buttons   buttons.Config   `yaml:"buttons"`
	Remote    remote.Config    `yaml:"remote"`
	EventPipe eventpipe.Config `yaml:"event_pipe"`
	Watchdog  watchdog.Config  `yaml:"watchdog"`
}

// SafetyConfig holds the supervisor switches and the default thresholds.
// Thresholds written through the configuration API are persisted in the
// state directory and take precedence over these defaults.
type SafetyConfig struct {
	safety.Config    `yaml:",inline"`
	store.Thresholds `yaml:",inline"`

	SensorStaleTimeout time.Duration `yaml:"sensor_stale_timeout"`
	EventCapacity      int           `yaml:"event_capacity"`
}

// MQTTConfig holds broker settings and publishing behaviour.
type MQTTConfig struct {
	mqtt.Config `yaml:",inline"`

	TopicPrefix    string        `yaml:"topic_prefix"`
	CommandSecret  string        `yaml:"command_secret"` // base64; empty accepts unsigned commands
	SensorInterval time.Duration `yaml:"sensor_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// DefaultConfig returns the reference gate configuration.
func DefaultConfig() Config {
	return Config{
		DeviceID:        "GATEMATE-001",
		StateDir:        "/var/lib/gatemate",
		LogLevel:        "info",
		CommandCooldown: time.Second,
		CommandsPerMin:  60,
		Gate:            gate.DefaultConfig(),
		Safety: SafetyConfig{
			Config: safety.DefaultConfig(),
			Thresholds: store.Thresholds{
				MaxOperationDuration: 30 * time.Second,
				MaxCurrent:           7.0,
				MaxTemperature:       75,
				WarningTemperature:   60,
			},
			SensorStaleTimeout: 2 * time.Second,
			EventCapacity:      store.DefaultEventCapacity,
		},
		MQTT: MQTTConfig{
			TopicPrefix:    "gatemate/devices/",
			SensorInterval: time.Second,
			StatusInterval: 120 * time.Second,
		},
		Sensor: sensor.Config{
			Calibration: sensor.DefaultCalibration(),
		},
		Buttons: buttons.Config{
			Debounce: buttons.DefaultDebounce,
		},
	}
}

// LoadConfig reads an optional .env file, then the YAML file, then applies
// environment overrides. A missing file is only an error when the path was
// asked for explicitly.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("GATEMATE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigFile
	}

	cfg := DefaultConfig()
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"GATEMATE_STATE_DIR": &c.StateDir,
		"GATEMATE_DEVICE_ID": &c.DeviceID,
		"GATEMATE_LOG_LEVEL": &c.LogLevel,
		"GATEMATE_MQTT_HOST": &c.MQTT.Host,
	} {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
}

// Validate rejects settings the controller cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DeviceID != "", "device_id missing")
	check(c.StateDir != "", "state_dir missing")
	check(c.Gate.Tick > 0, "gate.tick must be positive")
	check(c.Gate.Interlock > 0, "gate.interlock must be positive")
	check(c.Gate.Step > 0 && c.Gate.Step <= 100, "gate.position_step must be in 1..100")
	check(c.Gate.StepInterval > 0, "gate.step_interval must be positive")
	check(c.CommandCooldown >= 0, "command_cooldown must not be negative")
	check(c.CommandsPerMin >= 0, "commands_per_minute must not be negative")

	s := c.Safety
	check(s.MaxOperationDuration > 0, "safety.max_operation_time must be positive")
	check(s.MaxCurrent > 0, "safety.max_current must be positive")
	check(s.MaxTemperature > 0, "safety.max_temperature must be positive")
	check(s.WarningTemperature < s.MaxTemperature, "safety.warning_temperature must be below max_temperature")
	check(s.MaxConsecutiveFailures > 0, "safety.max_consecutive_failures must be positive")
	check(s.SensorStaleTimeout > c.Gate.Tick, "safety.sensor_stale_timeout must exceed gate.tick")

	check(c.MQTT.SensorInterval > 0, "mqtt.sensor_interval must be positive")
	check(c.MQTT.StatusInterval > 0, "mqtt.status_interval must be positive")

	return errors.Join(errs...)
}

// statePath is where the threshold store keeps its files.
func (c *Config) statePath() string {
	return filepath.Join(c.StateDir, "state")
}
