// Package buttons reads the physical gate push buttons.
package buttons

import "time"

// DefaultDebounce matches the reference button hardware.
const DefaultDebounce = 50 * time.Millisecond

// Config holds the button lines. A zero pin disables that button.
type Config struct {
	Chip         string        `yaml:"chip"`
	OpenPin      int           `yaml:"open_pin"`
	ClosePin     int           `yaml:"close_pin"`
	StopPin      int           `yaml:"stop_pin"`
	EmergencyPin int           `yaml:"emergency_pin"`
	Debounce     time.Duration `yaml:"debounce"`
}

// Handlers holds callback functions for button presses. They run on the
// gpio event goroutine.
type Handlers struct {
	OnOpen      func()
	OnClose     func()
	OnStop      func()
	OnEmergency func()
}

func (c Config) enabled() bool {
	return c.OpenPin != 0 || c.ClosePin != 0 || c.StopPin != 0 || c.EmergencyPin != 0
}

// lines pairs each configured pin with its handler.
func (c Config) lines(h Handlers) map[int]func() {
	m := make(map[int]func())
	for pin, fn := range map[int]func(){
		c.OpenPin:      h.OnOpen,
		c.ClosePin:     h.OnClose,
		c.StopPin:      h.OnStop,
		c.EmergencyPin: h.OnEmergency,
	} {
		if pin != 0 && fn != nil {
			m[pin] = fn
		}
	}
	return m
}
