// Package watchdog feeds the platform's hardware watchdog. If the gate loop
// stops feeding it, the board resets and restarts with the persisted
// safe-mode state intact.
package watchdog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Config holds the watchdog device path. Empty disables feeding.
type Config struct {
	Device string `yaml:"device"` // e.g. "/dev/watchdog"
}

// Watchdog is fed once per control tick.
type Watchdog interface {
	Feed() error
	Close() error
}

// New opens the configured device, or returns a Noop.
func New(cfg Config) (Watchdog, error) {
	if cfg.Device == "" {
		return Noop{}, nil
	}
	f, err := os.OpenFile(cfg.Device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", cfg.Device, err)
	}
	return newDevice(f), nil
}

// Device is a Linux watchdog character device. Any write resets the timer;
// writing the magic 'V' before closing disarms it.
type Device struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func newDevice(w io.WriteCloser) *Device {
	return &Device{w: w}
}

func (d *Device) Feed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return fmt.Errorf("watchdog closed")
	}
	if _, err := d.w.Write([]byte{'.'}); err != nil {
		return fmt.Errorf("feed watchdog: %w", err)
	}
	return nil
}

// Close disarms and closes the device. Only a clean shutdown should call
// it; a crash must leave the watchdog armed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return nil
	}
	_, werr := d.w.Write([]byte{'V'})
	cerr := d.w.Close()
	d.w = nil
	if werr != nil {
		return fmt.Errorf("disarm watchdog: %w", werr)
	}
	return cerr
}

// Noop implements Watchdog but does nothing.
type Noop struct{}

func (Noop) Feed() error  { return nil }
func (Noop) Close() error { return nil }
