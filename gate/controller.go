// Package gate implements the motion state machine for a two-relay swing or
// sliding gate and the loop that serializes ticks and commands through it.
package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

var (
	ErrSafeMode       = errors.New("in safe mode")
	ErrAlreadyOpen    = errors.New("gate already fully open")
	ErrAlreadyClosed  = errors.New("gate already fully closed")
	ErrInvalidPercent = errors.New("percentage must be between 0 and 100")
	ErrNotRunning     = errors.New("gate loop not running")
)

// DefaultInterlock is how long both outputs stay off before a direction is
// energized.
const DefaultInterlock = 50 * time.Millisecond

// Actuators drives the two motor outputs. Open and Close energize one
// output; the controller never calls them without a preceding Halt and
// interlock delay. Halt de-energizes both and must always be safe to call.
type Actuators interface {
	Open() error
	Close() error
	Halt() error
}

// Clock returns the current time.
type Clock func() time.Time

type Config struct {
	Tick         time.Duration `yaml:"tick"`
	Interlock    time.Duration `yaml:"interlock"`
	Step         int           `yaml:"position_step"`
	StepInterval time.Duration `yaml:"step_interval"`
}

// DefaultConfig matches the reference gate hardware.
func DefaultConfig() Config {
	return Config{
		Tick:         200 * time.Millisecond,
		Interlock:    DefaultInterlock,
		Step:         DefaultStep,
		StepInterval: DefaultStepInterval,
	}
}

// Deps are the collaborators of a Controller. Estimator, Log and Clock are
// optional.
type Deps struct {
	Actuators  Actuators
	Supervisor *safety.Supervisor
	Store      *store.Store
	Estimator  Estimator
	Log        logrus.FieldLogger
	Clock      Clock
}

// Operation is the motion in progress.
type Operation struct {
	Started   time.Time
	Direction Direction
	Target    int
	HasTarget bool
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          State  `json:"state"`
	Position       int    `json:"percentage"`
	Obstacle       bool   `json:"obstacle"`
	SafeMode       bool   `json:"safeMode"`
	SafeModeReason string `json:"safeModeReason,omitempty"`
	Failures       int    `json:"consecutiveFailures"`
	LastEvent      string `json:"lastEvent,omitempty"`
	LastMessage    string `json:"lastMessage,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

// Controller is the gate motion state machine. It is not safe for concurrent
// use; Loop is the only intended caller once running.
type Controller struct {
	cfg Config
	act Actuators
	sv  *safety.Supervisor
	st  *store.Store
	est Estimator
	log logrus.FieldLogger
	now Clock

	state    State
	position int
	op       *Operation

	energized      Direction
	energizedSince time.Time
	energizeAt     time.Time

	obstacle bool
	warning  string
}

// New builds a controller and restores its resting state from the store. A
// persisted safe-mode flag leaves the controller in Error.
func New(cfg Config, d Deps) (*Controller, error) {
	if d.Actuators == nil || d.Supervisor == nil || d.Store == nil {
		return nil, errors.New("gate: actuators, supervisor and store are required")
	}
	if cfg.Interlock < 0 {
		return nil, fmt.Errorf("gate: negative interlock %s", cfg.Interlock)
	}
	if d.Estimator == nil {
		d.Estimator = NewTimedEstimator(cfg.Step, cfg.StepInterval)
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	c := &Controller{
		cfg: cfg,
		act: d.Actuators,
		sv:  d.Supervisor,
		st:  d.Store,
		est: d.Estimator,
		log: d.Log,
		now: d.Clock,
	}

	if pos, ok := c.st.Position(); ok {
		c.position = clampPercent(pos)
	}
	c.state = stateFromPosition(c.position)
	if c.st.InSafeMode() {
		c.state = Error
		c.log.WithField("reason", c.st.Ledger().SafeModeReason).Warn("Starting in SAFE MODE")
	}

	if err := c.act.Halt(); err != nil {
		return nil, fmt.Errorf("gate: halt actuators: %w", err)
	}
	return c, nil
}

func (c *Controller) State() State { return c.state }

func (c *Controller) Position() int { return c.position }

// Operation returns the running operation, or nil when idle.
func (c *Controller) Operation() *Operation { return c.op }

// Energized reports which output is currently driven.
func (c *Controller) Energized() Direction { return c.energized }

// RequestOpen starts or continues an opening operation.
func (c *Controller) RequestOpen() error {
	return c.requestMove(Up, 0, false)
}

// RequestClose starts or continues a closing operation.
func (c *Controller) RequestClose() error {
	return c.requestMove(Down, 0, false)
}

// RequestPartial moves towards pct. The direction is chosen by comparing pct
// with the current position; an equal target is a no-op.
func (c *Controller) RequestPartial(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercent, pct)
	}
	if err := c.checkSafeMode(); err != nil {
		return err
	}
	switch {
	case pct > c.position:
		return c.requestMove(Up, pct, true)
	case pct < c.position:
		return c.requestMove(Down, pct, true)
	}
	c.log.WithField("percentage", pct).Debug("Already at requested position")
	return nil
}

func (c *Controller) checkSafeMode() error {
	if c.st.InSafeMode() {
		return fmt.Errorf("%w: %s", ErrSafeMode, c.st.Ledger().SafeModeReason)
	}
	return nil
}

func (c *Controller) requestMove(dir Direction, target int, hasTarget bool) error {
	if err := c.checkSafeMode(); err != nil {
		return err
	}
	if dir == Up && c.position >= 100 && c.state != Closing {
		return ErrAlreadyOpen
	}
	if dir == Down && c.position <= 0 && c.state != Opening {
		return ErrAlreadyClosed
	}

	now := c.now()
	if c.state.Moving() {
		if c.op.Direction == dir {
			c.op.Target, c.op.HasTarget = target, hasTarget
			return nil
		}
		// Reversal: the running operation ends as an operator stop.
		c.log.WithField("position", c.position).Info("Reversing direction")
		if err := c.sv.Complete(); err != nil {
			c.log.WithError(err).Error("Failed to reset failure counter")
		}
	}

	c.op = &Operation{Started: now, Direction: dir, Target: target, HasTarget: hasTarget}
	c.state = dir.state()
	if err := c.halt(); err != nil {
		c.fault(err)
		return err
	}
	c.energizeAt = now.Add(c.cfg.Interlock)

	fields := logrus.Fields{"state": c.state.String(), "position": c.position}
	if hasTarget {
		fields["target"] = target
	}
	c.log.WithFields(fields).Info("Gate moving")

	return c.Service(now)
}

// Deadline returns when a pending interlock delay expires.
func (c *Controller) Deadline() (time.Time, bool) {
	if c.energizeAt.IsZero() {
		return time.Time{}, false
	}
	return c.energizeAt, true
}

// Service energizes the output for the current operation once the interlock
// delay has passed. It is a no-op otherwise.
func (c *Controller) Service(now time.Time) error {
	if c.energizeAt.IsZero() || now.Before(c.energizeAt) || !c.state.Moving() {
		return nil
	}
	c.energizeAt = time.Time{}

	dir := c.op.Direction
	var err error
	if dir == Up {
		err = c.act.Open()
	} else {
		err = c.act.Close()
	}
	if err != nil {
		err = fmt.Errorf("energize %s output: %w", dir, err)
		c.fault(err)
		return err
	}
	c.energized = dir
	c.energizedSince = now
	c.est.Reset()
	c.log.WithField("direction", dir.String()).Debug("Actuator energized")
	return nil
}

// Tick runs one supervision step: service the interlock, evaluate the
// snapshot, apply a trip or limit switch, advance the position and detect
// the end of travel or a crossed partial target.
func (c *Controller) Tick(snap sensor.Snapshot) (safety.Verdict, error) {
	now := c.now()
	if err := c.Service(now); err != nil {
		return safety.Verdict{}, err
	}
	c.obstacle = snap.Obstacle

	var m *safety.Motion
	if c.state.Moving() {
		m = &safety.Motion{Opening: c.op.Direction == Up, Started: c.op.Started}
	}
	v := c.sv.Evaluate(snap, m, now)
	c.noteWarning(v.Warning)
	if m == nil {
		return v, nil
	}

	switch {
	case v.Event.IsTrip():
		return v, c.trip(v)
	case v.Event == safety.LimitSwitch:
		c.log.Info(v.Message)
		if c.op.Direction == Up {
			c.position = 100
			return v, c.finish(Open)
		}
		c.position = 0
		return v, c.finish(Closed)
	}

	if c.energized != Still {
		c.position = c.est.Advance(c.position, c.energized, now.Sub(c.energizedSince))
	}

	op := c.op
	switch {
	case op.Direction == Up && c.position >= 100:
		return v, c.finish(Open)
	case op.Direction == Down && c.position <= 0:
		return v, c.finish(Closed)
	case op.HasTarget && op.Direction == Up && c.position >= op.Target,
		op.HasTarget && op.Direction == Down && c.position <= op.Target:
		return v, c.finish(Stopped)
	}
	return v, nil
}

func (c *Controller) noteWarning(w string) {
	if w != "" && w != c.warning {
		c.log.Warn(w)
	}
	c.warning = w
}

// RequestStop de-energizes both outputs. A running operation ends as an
// operator stop, which clears the failure counter. Stop is accepted in safe
// mode.
func (c *Controller) RequestStop() error {
	if !c.state.Moving() {
		return c.halt()
	}
	c.log.WithField("position", c.position).Info("Stop requested")
	return c.finish(Stopped)
}

// EmergencyStop runs the trip path for an externally raised event such as
// the emergency stop button or a stale sensor watchdog. It applies whether
// or not the gate is moving.
func (c *Controller) EmergencyStop(ev safety.Event, message string) error {
	if !ev.IsTrip() {
		return fmt.Errorf("%s is not a trip event", ev)
	}
	return c.trip(safety.Verdict{Event: ev, Message: message})
}

func (c *Controller) trip(v safety.Verdict) error {
	wasMoving := c.state.Moving()
	c.clearMotion()
	entered, err := c.sv.Trip(v)
	switch {
	case entered || c.st.InSafeMode():
		c.state = Error
	case wasMoving:
		c.state = Stopped
	}
	if perr := c.savePosition(); perr != nil {
		err = errors.Join(err, perr)
	}
	return err
}

// finish ends the running operation successfully in state s.
func (c *Controller) finish(s State) error {
	herr := c.halt()
	c.clearMotion()
	c.state = s
	c.log.WithFields(logrus.Fields{"state": s.String(), "position": c.position}).Info("Gate operation complete")

	var errs []error
	if herr != nil {
		errs = append(errs, herr)
	}
	if err := c.sv.Complete(); err != nil {
		errs = append(errs, err)
	}
	if err := c.savePosition(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fault halts everything after an actuator failure and parks the
// controller in Error.
func (c *Controller) fault(cause error) {
	c.log.WithError(cause).Error("Actuator fault")
	if err := c.halt(); err != nil {
		c.log.WithError(err).Error("Halt after fault failed")
	}
	c.clearMotion()
	c.state = Error
	if err := c.st.AppendEvent("actuator_fault", cause.Error(), c.now()); err != nil {
		c.log.WithError(err).Error("Failed to record actuator fault")
	}
}

func (c *Controller) halt() error {
	c.energized = Still
	if err := c.act.Halt(); err != nil {
		c.log.WithError(err).Error("Failed to halt actuators")
		return fmt.Errorf("halt actuators: %w", err)
	}
	return nil
}

func (c *Controller) clearMotion() {
	c.op = nil
	c.energized = Still
	c.energizeAt = time.Time{}
}

func (c *Controller) savePosition() error {
	if err := c.st.SavePosition(c.position); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// EnterSafeMode forces the lockout. Any motion is halted.
func (c *Controller) EnterSafeMode(reason string) error {
	if reason == "" {
		reason = "Entered manually"
	}
	c.clearMotion()
	c.state = Error
	if err := c.sv.EnterSafeMode(reason); err != nil {
		return err
	}
	return c.savePosition()
}

// ExitSafeMode clears the lockout and the failure counter. The controller
// returns to the resting state for its position.
func (c *Controller) ExitSafeMode() error {
	if err := c.sv.ExitSafeMode(); err != nil {
		return err
	}
	if c.state == Error {
		c.state = stateFromPosition(c.position)
	}
	return nil
}

// SetThreshold updates one persisted threshold by name.
func (c *Controller) SetThreshold(name, value string) error {
	if err := c.st.SetThreshold(name, value); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"name": name, "value": value}).Info("Threshold updated")
	return nil
}

func (c *Controller) Thresholds() store.Thresholds {
	return c.st.Thresholds()
}

func (c *Controller) Status() Status {
	led := c.st.Ledger()
	s := Status{
		State:          c.state,
		Position:       c.position,
		Obstacle:       c.obstacle,
		SafeMode:       led.SafeMode,
		SafeModeReason: led.SafeModeReason,
		Failures:       led.ConsecutiveFailures,
		Warning:        c.warning,
	}
	if evs := c.st.Events(); len(evs) > 0 {
		last := evs[len(evs)-1]
		s.LastEvent, s.LastMessage = last.Kind, last.Message
	}
	return s
}

// Shutdown halts the actuators and persists the position. A running
// operation ends in Stopped.
func (c *Controller) Shutdown() error {
	herr := c.halt()
	if c.state.Moving() {
		c.state = Stopped
	}
	c.clearMotion()
	return errors.Join(herr, c.savePosition())
}
