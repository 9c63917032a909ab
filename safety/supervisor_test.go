package safety

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

type countingHalter struct {
	halts int
	err   error
}

func (h *countingHalter) Halt() error {
	h.halts++
	return h.err
}

var testThresholds = store.Thresholds{
	MaxOperationDuration: 30 * time.Second,
	MaxCurrent:           7.0,
	MaxTemperature:       75,
	WarningTemperature:   60,
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *store.Store, *countingHalter) {
	t.Helper()
	st, err := store.Open(store.NewMemory(), testThresholds, store.DefaultEventCapacity)
	require.NoError(t, err)
	l := logrus.New()
	l.SetOutput(io.Discard)
	h := &countingHalter{}
	return New(cfg, st, h, logrus.NewEntry(l)), st, h
}

func TestEventNames(t *testing.T) {
	for e := Ok; e <= ManualStop; e++ {
		parsed, err := ParseEvent(e.String())
		require.NoError(t, err)
		assert.Equal(t, e, parsed)
	}
	_, err := ParseEvent("meteor")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Event(42).String())
}

func TestEventClassification(t *testing.T) {
	assert.False(t, Ok.IsTrip())
	assert.False(t, LimitSwitch.IsTrip())
	assert.True(t, ManualStop.IsTrip())
	assert.False(t, ManualStop.CountsAsFailure())
	for _, e := range []Event{Timeout, Obstacle, CurrentOverload, Overheat, WatchdogExpired} {
		assert.True(t, e.CountsAsFailure(), e.String())
	}
}

func TestEvaluatePriority(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, DefaultConfig())
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opening := &Motion{Opening: true, Started: start}
	closing := &Motion{Opening: false, Started: start}

	tests := []struct {
		name   string
		snap   sensor.Snapshot
		motion *Motion
		now    time.Time
		want   Event
	}{
		{"idle", sensor.Snapshot{}, nil, start, Ok},
		{"timeout beats everything", sensor.Snapshot{Obstacle: true, Current: 20, Temperature: 90}, opening, start.Add(31 * time.Second), Timeout},
		{"exactly at limit is not a timeout", sensor.Snapshot{}, opening, start.Add(30 * time.Second), Ok},
		{"obstacle beats current", sensor.Snapshot{Obstacle: true, Current: 20}, opening, start.Add(time.Second), Obstacle},
		{"obstacle while idle", sensor.Snapshot{Obstacle: true}, nil, start, Obstacle},
		{"current beats heat", sensor.Snapshot{Current: 7.5, Temperature: 90}, opening, start.Add(time.Second), CurrentOverload},
		{"current at limit is fine", sensor.Snapshot{Current: 7.0}, opening, start.Add(time.Second), Ok},
		{"overheat", sensor.Snapshot{Temperature: 75.5}, opening, start.Add(time.Second), Overheat},
		{"open limit while opening", sensor.Snapshot{OpenLimit: true}, opening, start.Add(time.Second), LimitSwitch},
		{"open limit while closing is ignored", sensor.Snapshot{OpenLimit: true}, closing, start.Add(time.Second), Ok},
		{"close limit while closing", sensor.Snapshot{CloseLimit: true}, closing, start.Add(time.Second), LimitSwitch},
		{"limit ignored while idle", sensor.Snapshot{OpenLimit: true, CloseLimit: true}, nil, start, Ok},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := sv.Evaluate(tt.snap, tt.motion, tt.now)
			assert.Equal(t, tt.want, v.Event)
			if tt.want != Ok {
				assert.NotEmpty(t, v.Message)
			}
		})
	}
}

func TestEvaluateTemperatureWarning(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, DefaultConfig())
	v := sv.Evaluate(sensor.Snapshot{Temperature: 65}, nil, time.Now())
	assert.Equal(t, Ok, v.Event)
	assert.Contains(t, v.Warning, "65.0")

	v = sv.Evaluate(sensor.Snapshot{Temperature: 55}, nil, time.Now())
	assert.Empty(t, v.Warning)
}

func TestEvaluateDisabledChecks(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, Config{})
	v := sv.Evaluate(sensor.Snapshot{Obstacle: true, Current: 50, Temperature: 200}, nil, time.Now())
	assert.Equal(t, Ok, v.Event)
	assert.Empty(t, v.Warning)
}

func TestEvaluateUsesStoredThresholds(t *testing.T) {
	sv, st, _ := newTestSupervisor(t, DefaultConfig())
	snap := sensor.Snapshot{Current: 6.5}
	assert.Equal(t, Ok, sv.Evaluate(snap, nil, time.Now()).Event)
	require.NoError(t, st.SetMaxCurrent(6.0))
	assert.Equal(t, CurrentOverload, sv.Evaluate(snap, nil, time.Now()).Event)
}

func TestTripEscalatesToSafeMode(t *testing.T) {
	sv, st, h := newTestSupervisor(t, DefaultConfig())

	for i, ev := range []Event{Timeout, Obstacle} {
		entered, err := sv.Trip(Verdict{Event: ev, Message: ev.String()})
		require.NoError(t, err)
		assert.False(t, entered)
		assert.Equal(t, i+1, st.Ledger().ConsecutiveFailures)
	}

	entered, err := sv.Trip(Verdict{Event: CurrentOverload, Message: "Current overload: 9.00A"})
	require.NoError(t, err)
	assert.True(t, entered)

	led := st.Ledger()
	assert.True(t, led.SafeMode)
	assert.Equal(t, "Current overload: 9.00A", led.SafeModeReason)
	assert.GreaterOrEqual(t, h.halts, 4)
	assert.Len(t, st.Events(), 3)

	last, _ := sv.Last()
	assert.Equal(t, CurrentOverload, last.Event)
}

func TestManualStopDoesNotCount(t *testing.T) {
	sv, st, h := newTestSupervisor(t, DefaultConfig())
	_, err := sv.Trip(Verdict{Event: Timeout, Message: "t"})
	require.NoError(t, err)

	entered, err := sv.Trip(Verdict{Event: ManualStop, Message: "Manual emergency stop activated"})
	require.NoError(t, err)
	assert.False(t, entered)
	assert.Equal(t, 1, st.Ledger().ConsecutiveFailures)
	assert.Equal(t, 2, h.halts)

	evs := st.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "manual_stop", evs[1].Kind)
}

func TestCompleteResetsCounter(t *testing.T) {
	sv, st, _ := newTestSupervisor(t, DefaultConfig())
	for i := 0; i < 2; i++ {
		_, err := sv.Trip(Verdict{Event: Obstacle, Message: "o"})
		require.NoError(t, err)
	}
	require.NoError(t, sv.Complete())
	assert.Equal(t, 0, st.Ledger().ConsecutiveFailures)

	_, err := sv.Trip(Verdict{Event: Obstacle, Message: "o"})
	require.NoError(t, err)
	assert.False(t, st.InSafeMode())
}

func TestExitSafeMode(t *testing.T) {
	sv, st, _ := newTestSupervisor(t, Config{MaxConsecutiveFailures: 1})
	entered, err := sv.Trip(Verdict{Event: WatchdogExpired, Message: "stale"})
	require.NoError(t, err)
	require.True(t, entered)

	require.NoError(t, sv.ExitSafeMode())
	led := st.Ledger()
	assert.False(t, led.SafeMode)
	assert.Zero(t, led.ConsecutiveFailures)
	assert.Empty(t, led.SafeModeReason)
}

func TestTripRejectsNonTrip(t *testing.T) {
	sv, _, h := newTestSupervisor(t, DefaultConfig())
	_, err := sv.Trip(Verdict{Event: LimitSwitch})
	assert.Error(t, err)
	assert.Zero(t, h.halts)
}

func TestTripReportsHaltFailure(t *testing.T) {
	sv, st, h := newTestSupervisor(t, DefaultConfig())
	h.err = errors.New("relay stuck")
	_, err := sv.Trip(Verdict{Event: Obstacle, Message: "o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay stuck")
	assert.Equal(t, 1, st.Ledger().ConsecutiveFailures)
}
