package relay

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// bcmOutput drives a pin through the BCM283x registers.
type bcmOutput struct {
	hw        govattu.Vattu
	pin       uint8
	activeLow bool
}

func (o *bcmOutput) On() error {
	if o.activeLow {
		o.hw.PinClear(o.pin)
	} else {
		o.hw.PinSet(o.pin)
	}
	return nil
}

func (o *bcmOutput) Off() error {
	if o.activeLow {
		o.hw.PinSet(o.pin)
	} else {
		o.hw.PinClear(o.pin)
	}
	return nil
}

// NewBCM creates a relay pair using direct register access.
func NewBCM(openPin, closePin uint8, activeLow bool) (*Pair, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	open := &bcmOutput{hw: hw, pin: openPin, activeLow: activeLow}
	close := &bcmOutput{hw: hw, pin: closePin, activeLow: activeLow}

	// Drive both off before switching to output so neither relay clicks on.
	open.Off()
	close.Off()
	hw.PinMode(openPin, govattu.ALToutput)
	hw.PinMode(closePin, govattu.ALToutput)

	return NewPair(open, close, hw.Close), nil
}
