// Package indicator shows the gate state on LEDs, a buzzer or a neopixel
// strip.
package indicator

// Indicator is the interface for status indicator implementations.
type Indicator interface {
	// Idle shows the gate at rest and ready.
	Idle()

	// Moving shows an operation in progress.
	Moving(opening bool)

	// Tripped shows that a safety stop just happened.
	Tripped(event string)

	// SafeMode shows the lockout.
	SafeMode()

	// ConnectionLost shows that the message bus is unreachable.
	ConnectionLost()

	// ConnectionRestored clears the connection lost state.
	ConnectionRestored()

	// Shutdown shows that the controller is stopping.
	Shutdown()

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for indicator implementations.
type Config struct {
	// GPIO pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`
	BuzzerPin *uint8 `yaml:"buzzer_pin"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`
}

// New creates an Indicator based on the provided configuration.
// Returns a Multi indicator if both GPIO and Neopixel are configured.
func New(cfg Config) (Indicator, error) {
	var indicators []Indicator

	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil || cfg.BuzzerPin != nil {
		gpio, err := NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin, cfg.BuzzerPin)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, gpio)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	switch len(indicators) {
	case 0:
		return &Noop{}, nil
	case 1:
		return indicators[0], nil
	}
	return NewMulti(indicators...), nil
}
