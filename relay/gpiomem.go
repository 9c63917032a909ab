package relay

import (
	"fmt"

	"github.com/warthog618/gpio"
)

// memOutput drives a pin through the warthog618/gpio register mapping.
type memOutput struct {
	pin       *gpio.Pin
	activeLow bool
}

func (o *memOutput) On() error {
	if o.activeLow {
		o.pin.Low()
	} else {
		o.pin.High()
	}
	return nil
}

func (o *memOutput) Off() error {
	if o.activeLow {
		o.pin.High()
	} else {
		o.pin.Low()
	}
	return nil
}

// NewGPIOMem creates a relay pair on the warthog618/gpio driver.
func NewGPIOMem(openPin, closePin int, activeLow bool) (*Pair, error) {
	if err := gpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	open := &memOutput{pin: gpio.NewPin(openPin), activeLow: activeLow}
	close := &memOutput{pin: gpio.NewPin(closePin), activeLow: activeLow}
	for _, o := range []*memOutput{open, close} {
		o.Off()
		o.pin.Output()
	}

	return NewPair(open, close, gpio.Close), nil
}
