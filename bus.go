package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
)

const defaultPartial = 50

// publisher is the slice of the MQTT client the bus needs.
type publisher interface {
	Publish(topic string, payload []byte, retained bool)
}

// bus encodes gate traffic for the message broker. Topics live under
// <prefix><deviceID>/.
type bus struct {
	pub      publisher
	deviceID string
	prefix   string
	secret   string
	log      logrus.FieldLogger
	now      func() time.Time

	sensorEvery time.Duration
	mu          sync.Mutex
	lastSensor  time.Time
}

type statusPayload struct {
	DeviceID       string `json:"deviceId"`
	State          string `json:"state"`
	Percentage     int    `json:"percentage"`
	Online         bool   `json:"online"`
	Obstacle       bool   `json:"obstacle"`
	SafeMode       bool   `json:"safeMode"`
	SafeModeReason string `json:"safeModeReason,omitempty"`
	LastEvent      string `json:"lastEvent,omitempty"`
	Warning        string `json:"warning,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

type sensorPayload struct {
	DeviceID    string  `json:"deviceId"`
	Current     float64 `json:"current"`
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	Obstacle    bool    `json:"obstacle"`
	Timestamp   int64   `json:"timestamp"`
}

type eventPayload struct {
	DeviceID  string `json:"deviceId"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// commandPayload is what remote controllers send on the commands topic.
// Timestamp and Signature are required when a command secret is set.
type commandPayload struct {
	Command    string `json:"command"`
	Percentage *int   `json:"percentage,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  uint64 `json:"timestamp,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

func (b *bus) topic(leaf string) string {
	return b.prefix + b.deviceID + "/" + leaf
}

func (b *bus) publishJSON(leaf string, v interface{}, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.WithError(err).WithField("topic", leaf).Error("Encode payload")
		return
	}
	b.pub.Publish(b.topic(leaf), data, retained)
}

func (b *bus) statusPayload(s gate.Status, online bool) statusPayload {
	return statusPayload{
		DeviceID:       b.deviceID,
		State:          s.State.String(),
		Percentage:     s.Position,
		Online:         online,
		Obstacle:       s.Obstacle,
		SafeMode:       s.SafeMode,
		SafeModeReason: s.SafeModeReason,
		LastEvent:      s.LastEvent,
		Warning:        s.Warning,
		Timestamp:      b.now().UnixMilli(),
	}
}

// publishStatus sends the retained status document.
func (b *bus) publishStatus(s gate.Status) {
	b.publishJSON("status", b.statusPayload(s, true), true)
}

// offlineStatus is the retained document the broker publishes as our last
// will, and the one sent on a clean shutdown.
func (b *bus) offlineStatus(s gate.Status) []byte {
	data, _ := json.Marshal(b.statusPayload(s, false))
	return data
}

// publishSensors sends a telemetry sample at most once per sensor interval.
func (b *bus) publishSensors(snap sensor.Snapshot) {
	b.mu.Lock()
	if !b.lastSensor.IsZero() && snap.At.Sub(b.lastSensor) < b.sensorEvery {
		b.mu.Unlock()
		return
	}
	b.lastSensor = snap.At
	b.mu.Unlock()

	b.publishJSON("sensors", sensorPayload{
		DeviceID:    b.deviceID,
		Current:     snap.Current,
		Voltage:     snap.Voltage,
		Temperature: snap.Temperature,
		Obstacle:    snap.Obstacle,
		Timestamp:   snap.At.UnixMilli(),
	}, false)
}

// publishEvent reports a safety trip.
func (b *bus) publishEvent(v safety.Verdict, at time.Time) {
	b.publishJSON("events", eventPayload{
		DeviceID:  b.deviceID,
		Kind:      v.Event.String(),
		Message:   v.Message,
		Timestamp: at.UnixMilli(),
	}, false)
}

// publishRejection reports a command the gate refused.
func (b *bus) publishRejection(cmd gate.Command, err error) {
	b.publishJSON("events", eventPayload{
		DeviceID:  b.deviceID,
		Kind:      "command_rejected",
		Message:   fmt.Sprintf("%s: %v", cmd, err),
		Timestamp: b.now().UnixMilli(),
	}, false)
}

// parseCommand decodes a commands-topic payload. A partial move without a
// percentage goes to 50; percentages are clamped to 0..100.
func (b *bus) parseCommand(payload []byte) (gate.Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return gate.Command{}, fmt.Errorf("decode command: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(p.Command))
	kind, err := gate.ParseCommandKind(name)
	if err != nil {
		return gate.Command{}, err
	}
	switch kind {
	case gate.CmdOpen, gate.CmdClose, gate.CmdStop, gate.CmdPartial, gate.CmdEmergencyStop:
	default:
		return gate.Command{}, fmt.Errorf("command %s not accepted over mqtt", kind)
	}

	cmd := gate.Command{Kind: kind, Reason: p.Reason, Source: "mqtt"}
	if kind == gate.CmdPartial {
		cmd.Percent = defaultPartial
		if p.Percentage != nil {
			cmd.Percent = *p.Percentage
		}
		if cmd.Percent > 100 {
			cmd.Percent = 100
		}
		if cmd.Percent < 0 {
			cmd.Percent = 0
		}
	}

	if b.secret != "" {
		if err := verifyCommand(b.secret, b.deviceID, name, cmd.Percent, p.Timestamp, p.Signature, b.now()); err != nil {
			return gate.Command{}, err
		}
	}
	return cmd, nil
}
