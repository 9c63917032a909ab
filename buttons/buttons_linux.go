//go:build linux

package buttons

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Buttons owns the requested button lines.
type Buttons struct {
	lines    []*gpiocdev.Line
	handlers map[int]func()
}

// New requests the configured lines as pulled-up inputs firing on the
// falling edge. Returns nil if no button is configured.
func New(cfg Config, handlers Handlers) (*Buttons, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	b := &Buttons{handlers: cfg.lines(handlers)}
	for pin := range b.handlers {
		l, err := gpiocdev.RequestLine(cfg.Chip, pin,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(cfg.Debounce),
			gpiocdev.WithEventHandler(b.handleEvent))
		if err != nil {
			b.Release()
			return nil, fmt.Errorf("request button line %d: %w", pin, err)
		}
		b.lines = append(b.lines, l)
	}
	return b, nil
}

func (b *Buttons) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	if fn, ok := b.handlers[evt.Offset]; ok {
		fn()
	}
}

// Release releases GPIO resources.
func (b *Buttons) Release() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, l := range b.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.lines = nil
	return errors.Join(errs...)
}
