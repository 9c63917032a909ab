package indicator

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// GPIO implements Indicator using discrete LED pins and a buzzer.
type GPIO struct {
	hw        govattu.Vattu
	greenPin  *uint8
	yellowPin *uint8
	redPin    *uint8
	buzzerPin *uint8
}

// NewGPIO creates a new GPIO-based indicator. Any pin may be nil.
func NewGPIO(greenPin, yellowPin, redPin, buzzerPin *uint8) (*GPIO, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	g := &GPIO{
		hw:        hw,
		greenPin:  greenPin,
		yellowPin: yellowPin,
		redPin:    redPin,
		buzzerPin: buzzerPin,
	}
	for _, pin := range g.pins() {
		hw.PinMode(*pin, govattu.ALToutput)
		hw.PinClear(*pin)
	}
	return g, nil
}

func (g *GPIO) pins() []*uint8 {
	var pins []*uint8
	for _, p := range []*uint8{g.greenPin, g.yellowPin, g.redPin, g.buzzerPin} {
		if p != nil {
			pins = append(pins, p)
		}
	}
	return pins
}

func (g *GPIO) show(on ...*uint8) {
	g.allOff()
	for _, pin := range on {
		if pin != nil {
			g.hw.PinSet(*pin)
		}
	}
}

// Idle implements Indicator.Idle.
func (g *GPIO) Idle() {
	g.show(g.greenPin)
}

// Moving implements Indicator.Moving.
func (g *GPIO) Moving(opening bool) {
	g.show(g.yellowPin)
}

// Tripped implements Indicator.Tripped. The buzzer sounds until the next
// state change.
func (g *GPIO) Tripped(event string) {
	g.show(g.redPin, g.buzzerPin)
}

// SafeMode implements Indicator.SafeMode.
func (g *GPIO) SafeMode() {
	g.show(g.redPin)
}

// ConnectionLost implements Indicator.ConnectionLost.
func (g *GPIO) ConnectionLost() {
	g.show(g.yellowPin, g.redPin)
}

// ConnectionRestored implements Indicator.ConnectionRestored.
func (g *GPIO) ConnectionRestored() {
	g.Idle()
}

// Shutdown implements Indicator.Shutdown.
func (g *GPIO) Shutdown() {
	g.allOff()
}

// Release implements Indicator.Release.
func (g *GPIO) Release() error {
	g.allOff()
	return g.hw.Close()
}

func (g *GPIO) allOff() {
	for _, pin := range g.pins() {
		g.hw.PinClear(*pin)
	}
}
