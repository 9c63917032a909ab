package sensor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds configuration for the snapshot adapter.
type Config struct {
	Type   string        `yaml:"type"`    // "bridge" or "static"
	Device string        `yaml:"device"`  // serial ADC bridge, e.g. "/dev/ttyUSB0"
	Baud   int           `yaml:"baud"`    // bridge baud rate
	MaxAge time.Duration `yaml:"max_age"` // oldest analog frame still served

	// Digital inputs on the GPIO character device (nil = not wired)
	Chip          string `yaml:"chip"`
	ObstaclePin   *int   `yaml:"obstacle_pin"`
	OpenLimitPin  *int   `yaml:"open_limit_pin"`
	CloseLimitPin *int   `yaml:"close_limit_pin"`
	ActiveHigh    bool   `yaml:"active_high"` // default: pulled up, active low

	Calibration Calibration `yaml:"calibration"`
}

// Digital holds the switch-type inputs.
type Digital struct {
	Obstacle   bool
	OpenLimit  bool
	CloseLimit bool
}

// Inputs reads the digital inputs.
type Inputs interface {
	Read() (Digital, error)
	Close() error
}

type noInputs struct{}

func (noInputs) Read() (Digital, error) { return Digital{}, nil }
func (noInputs) Close() error           { return nil }

// New creates an Adapter based on the provided configuration. An empty type
// selects the software Static adapter.
func New(cfg Config, log logrus.FieldLogger) (Adapter, error) {
	switch cfg.Type {
	case "", "static", "none":
		log.Warn("No sensor hardware configured, using static readings")
		return NewStatic(), nil
	case "bridge":
		inputs, err := openInputs(cfg)
		if err != nil {
			return nil, fmt.Errorf("open digital inputs: %w", err)
		}
		b, err := OpenBridge(cfg, inputs, log)
		if err != nil {
			inputs.Close()
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.Type)
	}
}
