package gate

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

// recordingActuators fails the test if both outputs are ever driven at once
// or if an output is energized sooner than the interlock after a halt.
type recordingActuators struct {
	t         *testing.T
	now       func() time.Time
	interlock time.Duration

	mu       sync.Mutex
	open     bool
	close    bool
	lastHalt time.Time
	opens    int
	closes   int
	halts    int
	openErr  error
}

func (a *recordingActuators) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return a.openErr
	}
	a.energize(&a.open, a.close)
	a.opens++
	return nil
}

func (a *recordingActuators) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.energize(&a.close, a.open)
	a.closes++
	return nil
}

func (a *recordingActuators) energize(out *bool, other bool) {
	if other {
		a.t.Errorf("both outputs energized")
	}
	if gap := a.now().Sub(a.lastHalt); gap < a.interlock {
		a.t.Errorf("output energized %s after halt, interlock is %s", gap, a.interlock)
	}
	*out = true
}

func (a *recordingActuators) Halt() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open, a.close = false, false
	a.lastHalt = a.now()
	a.halts++
	return nil
}

func (a *recordingActuators) counts() (opens, closes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens, a.closes
}

func (a *recordingActuators) outputs() (open, close bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open, a.close
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// frozenEstimator never moves the gate, so only the timeout can end a move.
type frozenEstimator struct{}

func (frozenEstimator) Reset() {}

func (frozenEstimator) Advance(pos int, _ Direction, _ time.Duration) int { return pos }

var testThresholds = store.Thresholds{
	MaxOperationDuration: 30 * time.Second,
	MaxCurrent:           7.0,
	MaxTemperature:       75,
	WarningTemperature:   60,
}

type rig struct {
	t     *testing.T
	ctrl  *Controller
	act   *recordingActuators
	st    *store.Store
	clock *fakeClock
}

type rigOption func(*Deps)

func withEstimator(e Estimator) rigOption {
	return func(d *Deps) { d.Estimator = e }
}

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newRig(t *testing.T, backend store.Backend, opts ...rigOption) *rig {
	t.Helper()
	if backend == nil {
		backend = store.NewMemory()
	}
	st, err := store.Open(backend, testThresholds, store.DefaultEventCapacity)
	require.NoError(t, err)

	clock := newFakeClock()
	cfg := DefaultConfig()
	act := &recordingActuators{t: t, now: clock.Now, interlock: cfg.Interlock}
	log := discardLog()
	sv := safety.New(safety.DefaultConfig(), st, act, log)
	sv.SetClock(clock.Now)

	d := Deps{
		Actuators:  act,
		Supervisor: sv,
		Store:      st,
		Log:        log,
		Clock:      clock.Now,
	}
	for _, o := range opts {
		o(&d)
	}
	ctrl, err := New(cfg, d)
	require.NoError(t, err)
	return &rig{t: t, ctrl: ctrl, act: act, st: st, clock: clock}
}

// step advances the clock by d and runs one tick with snap.
func (r *rig) step(d time.Duration, snap sensor.Snapshot) safety.Verdict {
	r.t.Helper()
	r.clock.Advance(d)
	v, err := r.ctrl.Tick(snap)
	require.NoError(r.t, err)
	return v
}

// runUntilIdle ticks every 100ms until the controller stops moving.
func (r *rig) runUntilIdle(limit int) {
	r.t.Helper()
	for i := 0; i < limit && r.ctrl.State().Moving(); i++ {
		r.step(100*time.Millisecond, sensor.Snapshot{})
	}
	require.False(r.t, r.ctrl.State().Moving(), "still %s after %d ticks", r.ctrl.State(), limit)
}
