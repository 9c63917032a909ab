package main

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic, payload, retained})
}

func (p *fakePublisher) last(t *testing.T) message {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.msgs)
	return p.msgs[len(p.msgs)-1]
}

var busEpoch = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestBus(secret string) (*bus, *fakePublisher) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	pub := &fakePublisher{}
	return &bus{
		pub:         pub,
		deviceID:    "GATEMATE-001",
		prefix:      "gatemate/devices/",
		secret:      secret,
		log:         l,
		now:         func() time.Time { return busEpoch },
		sensorEvery: time.Second,
	}, pub
}

func TestPublishStatus(t *testing.T) {
	b, pub := newTestBus("")
	b.publishStatus(gate.Status{State: gate.Opening, Position: 35, Obstacle: true, LastEvent: "timeout"})

	msg := pub.last(t)
	assert.Equal(t, "gatemate/devices/GATEMATE-001/status", msg.topic)
	assert.True(t, msg.retained)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "GATEMATE-001", got["deviceId"])
	assert.Equal(t, "opening", got["state"])
	assert.Equal(t, 35.0, got["percentage"])
	assert.Equal(t, true, got["online"])
	assert.Equal(t, true, got["obstacle"])
	assert.Equal(t, false, got["safeMode"])
	assert.Equal(t, "timeout", got["lastEvent"])
	assert.Equal(t, float64(busEpoch.UnixMilli()), got["timestamp"])

	var offline statusPayload
	require.NoError(t, json.Unmarshal(b.offlineStatus(gate.Status{State: gate.Closed}), &offline))
	assert.False(t, offline.Online)
	assert.Equal(t, "closed", offline.State)
}

func TestPublishSensorsThrottled(t *testing.T) {
	b, pub := newTestBus("")
	b.publishSensors(sensor.Snapshot{Current: 2.5, Voltage: 24.1, Temperature: 31, At: busEpoch})
	b.publishSensors(sensor.Snapshot{Current: 2.6, At: busEpoch.Add(200 * time.Millisecond)})
	b.publishSensors(sensor.Snapshot{Current: 2.7, At: busEpoch.Add(time.Second)})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "gatemate/devices/GATEMATE-001/sensors", pub.msgs[0].topic)
	assert.False(t, pub.msgs[0].retained)

	var got sensorPayload
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &got))
	assert.Equal(t, 2.7, got.Current)
}

func TestPublishEventAndRejection(t *testing.T) {
	b, pub := newTestBus("")
	b.publishEvent(safety.Verdict{Event: safety.CurrentOverload, Message: "Current overload: 8.10A"}, busEpoch)

	var ev eventPayload
	require.NoError(t, json.Unmarshal(pub.last(t).payload, &ev))
	assert.Equal(t, "current_overload", ev.Kind)
	assert.Equal(t, "Current overload: 8.10A", ev.Message)

	b.publishRejection(gate.Command{Kind: gate.CmdOpen}, errors.New("in safe mode"))
	require.NoError(t, json.Unmarshal(pub.last(t).payload, &ev))
	assert.Equal(t, "command_rejected", ev.Kind)
	assert.Equal(t, "open: in safe mode", ev.Message)
}

func TestParseCommand(t *testing.T) {
	b, _ := newTestBus("")
	tests := []struct {
		payload string
		want    gate.Command
	}{
		{`{"command":"open"}`, gate.Command{Kind: gate.CmdOpen, Source: "mqtt"}},
		{`{"command":"Close"}`, gate.Command{Kind: gate.CmdClose, Source: "mqtt"}},
		{`{"command":"stop"}`, gate.Command{Kind: gate.CmdStop, Source: "mqtt"}},
		{`{"command":"partial"}`, gate.Command{Kind: gate.CmdPartial, Percent: 50, Source: "mqtt"}},
		{`{"command":"partial","percentage":30}`, gate.Command{Kind: gate.CmdPartial, Percent: 30, Source: "mqtt"}},
		{`{"command":"partial","percentage":250}`, gate.Command{Kind: gate.CmdPartial, Percent: 100, Source: "mqtt"}},
		{`{"command":"estop","reason":"remote"}`, gate.Command{Kind: gate.CmdEmergencyStop, Reason: "remote", Source: "mqtt"}},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := b.parseCommand([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{`not json`, `{}`, `{"command":"exit-safe-mode"}`, `{"command":"set"}`} {
		_, err := b.parseCommand([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestParseSignedCommand(t *testing.T) {
	b, _ := newTestBus(testSecret)
	ts := uint64(busEpoch.Unix())

	_, err := b.parseCommand([]byte(`{"command":"open"}`))
	assert.Error(t, err, "unsigned command must be refused")

	sig, _, err := signCommand(testSecret, "GATEMATE-001", "partial", 50, ts)
	require.NoError(t, err)
	payload, err := json.Marshal(commandPayload{Command: "partial", Timestamp: ts, Signature: sig})
	require.NoError(t, err)

	cmd, err := b.parseCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, 50, cmd.Percent)
}
