// Package remote turns key presses from a USB HID remote or keypad into gate
// commands.
package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kenshaw/evdev"
	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
)

// Config holds the input device and key bindings. Keys maps evdev key names
// (as printed by evdev, e.g. "O", "F1") to command names. Digits followed by
// Enter always request a partial move to that percentage.
type Config struct {
	Device string            `yaml:"device"`
	Keys   map[string]string `yaml:"keys"`
}

var defaultKeys = map[string]string{
	"O": "open",
	"C": "close",
	"S": "stop",
	"E": "estop",
}

// Remote reads one evdev input device.
type Remote struct {
	device *evdev.Evdev
	dec    *decoder
	log    logrus.FieldLogger
}

// New opens the configured device. Returns nil if no device is configured.
func New(cfg Config, log logrus.FieldLogger) (*Remote, error) {
	if cfg.Device == "" {
		return nil, nil
	}
	dec, err := newDecoder(cfg.Keys)
	if err != nil {
		return nil, err
	}
	dev, err := evdev.OpenFile(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", cfg.Device, err)
	}
	log.WithFields(logrus.Fields{
		"name":    dev.Name(),
		"vendor":  fmt.Sprintf("0x%04x", dev.ID().Vendor),
		"product": fmt.Sprintf("0x%04x", dev.ID().Product),
	}).Info("Opened remote device")
	return &Remote{device: dev, dec: dec, log: log}, nil
}

// Run delivers commands to dispatch until ctx is cancelled or the device
// goes away.
func (r *Remote) Run(ctx context.Context, dispatch func(gate.Command)) error {
	ch := r.device.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-ch:
			if event == nil {
				return fmt.Errorf("remote device closed")
			}
			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}
				key := evdev.KeyType(event.Code)
				name := key.String()
				if key == evdev.KeyEnter {
					name = "ENTER"
				}
				cmd, ok, err := r.dec.feed(name)
				if err != nil {
					r.log.WithError(err).Warn("Bad remote input")
					continue
				}
				if ok {
					cmd.Source = "remote"
					dispatch(cmd)
				}
			}
		}
	}
}

// Close releases the input device.
func (r *Remote) Close() error {
	if r == nil || r.device == nil {
		return nil
	}
	return r.device.Close()
}

// decoder maps key names to commands, collecting digits for partial moves.
type decoder struct {
	keys   map[string]gate.CommandKind
	digits string
}

func newDecoder(bindings map[string]string) (*decoder, error) {
	if len(bindings) == 0 {
		bindings = defaultKeys
	}
	d := &decoder{keys: make(map[string]gate.CommandKind)}
	for key, name := range bindings {
		kind, err := gate.ParseCommandKind(name)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		switch kind {
		case gate.CmdOpen, gate.CmdClose, gate.CmdStop, gate.CmdEmergencyStop:
		default:
			return nil, fmt.Errorf("key %s: %s cannot be bound to a key", key, kind)
		}
		d.keys[strings.ToUpper(key)] = kind
	}
	return d, nil
}

func (d *decoder) feed(key string) (gate.Command, bool, error) {
	key = strings.ToUpper(key)
	if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
		if len(d.digits) < 3 {
			d.digits += key
		}
		return gate.Command{}, false, nil
	}
	if key == "ENTER" {
		if d.digits == "" {
			return gate.Command{}, false, nil
		}
		s := d.digits
		d.digits = ""
		pct, err := strconv.Atoi(s)
		if err != nil || pct > 100 {
			return gate.Command{}, false, fmt.Errorf("bad percentage %q", s)
		}
		return gate.Command{Kind: gate.CmdPartial, Percent: pct}, true, nil
	}

	kind, ok := d.keys[key]
	if !ok {
		return gate.Command{}, false, nil
	}
	d.digits = ""
	return gate.Command{Kind: kind}, true, nil
}
