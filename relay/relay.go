// Package relay drives the two motor relays of the gate.
package relay

import (
	"errors"
	"fmt"
	"sync"
)

// Output is a single relay line.
type Output interface {
	On() error
	Off() error
}

// Config holds configuration for the relay driver.
type Config struct {
	Type      string `yaml:"type"`       // "bcm", "gpiomem", "none"
	OpenPin   *int   `yaml:"open_pin"`   // BCM pin of the open relay
	ClosePin  *int   `yaml:"close_pin"`  // BCM pin of the close relay
	ActiveLow bool   `yaml:"active_low"` // relay board switches on a low level
}

// New creates the relay pair for the configured driver. Without pins the
// pair drives nothing.
func New(cfg Config) (*Pair, error) {
	if cfg.OpenPin == nil || cfg.ClosePin == nil {
		return NewPair(Noop{}, Noop{}, nil), nil
	}
	if *cfg.OpenPin == *cfg.ClosePin {
		return nil, fmt.Errorf("open and close relay share pin %d", *cfg.OpenPin)
	}

	switch cfg.Type {
	case "bcm", "":
		return NewBCM(uint8(*cfg.OpenPin), uint8(*cfg.ClosePin), cfg.ActiveLow)
	case "gpiomem":
		return NewGPIOMem(*cfg.OpenPin, *cfg.ClosePin, cfg.ActiveLow)
	case "none":
		return NewPair(Noop{}, Noop{}, nil), nil
	default:
		return nil, fmt.Errorf("unknown relay type %q", cfg.Type)
	}
}

// Pair drives the open and close relays. The relay being switched on is
// always preceded by switching the other one off, so the two are never on
// together even if a caller skips the stop. Safe for concurrent use.
type Pair struct {
	mu      sync.Mutex
	open    Output
	close   Output
	release func() error

	openOn  bool
	closeOn bool
}

// NewPair combines two outputs. release is called by Release and may be nil.
func NewPair(open, close Output, release func() error) *Pair {
	return &Pair{open: open, close: close, release: release}
}

// Open energizes the open relay.
func (p *Pair) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.close.Off(); err != nil {
		return fmt.Errorf("close relay off: %w", err)
	}
	p.closeOn = false
	if err := p.open.On(); err != nil {
		return fmt.Errorf("open relay on: %w", err)
	}
	p.openOn = true
	return nil
}

// Close energizes the close relay.
func (p *Pair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.open.Off(); err != nil {
		return fmt.Errorf("open relay off: %w", err)
	}
	p.openOn = false
	if err := p.close.On(); err != nil {
		return fmt.Errorf("close relay on: %w", err)
	}
	p.closeOn = true
	return nil
}

// Halt switches both relays off. Both are attempted even if one fails.
func (p *Pair) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haltLocked()
}

func (p *Pair) haltLocked() error {
	var errs []error
	if err := p.open.Off(); err != nil {
		errs = append(errs, fmt.Errorf("open relay off: %w", err))
	} else {
		p.openOn = false
	}
	if err := p.close.Off(); err != nil {
		errs = append(errs, fmt.Errorf("close relay off: %w", err))
	} else {
		p.closeOn = false
	}
	return errors.Join(errs...)
}

// Active reports which relays are on.
func (p *Pair) Active() (open, close bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openOn, p.closeOn
}

// Release switches both relays off and frees the hardware.
func (p *Pair) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.haltLocked()
	if p.release != nil {
		err = errors.Join(err, p.release())
		p.release = nil
	}
	return err
}

// Noop is an Output wired to nothing.
type Noop struct{}

func (Noop) On() error  { return nil }
func (Noop) Off() error { return nil }
