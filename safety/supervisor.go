package safety

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

// DefaultMaxConsecutiveFailures is the escalation policy default.
const DefaultMaxConsecutiveFailures = 3

// Halter de-energizes every actuator output. Implementations must treat it
// as always safe to call.
type Halter interface {
	Halt() error
}

// Config selects which checks run and the escalation limit.
type Config struct {
	ObstacleDetection      bool `yaml:"obstacle_detection"`
	CurrentMonitoring      bool `yaml:"current_monitoring"`
	TemperatureMonitoring  bool `yaml:"temperature_monitoring"`
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures"`
}

// DefaultConfig enables every check.
func DefaultConfig() Config {
	return Config{
		ObstacleDetection:      true,
		CurrentMonitoring:      true,
		TemperatureMonitoring:  true,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}

// Motion is the operation under supervision.
type Motion struct {
	Opening bool
	Started time.Time
}

// Supervisor evaluates snapshots and runs the trip path. It is not safe for
// concurrent use; the gate loop owns it.
type Supervisor struct {
	cfg    Config
	store  *store.Store
	halter Halter
	log    logrus.FieldLogger
	now    func() time.Time

	last   Verdict
	lastAt time.Time
}

// New creates a Supervisor. The halter is the stop capability used on every
// trip.
func New(cfg Config, st *store.Store, h Halter, log logrus.FieldLogger) *Supervisor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Supervisor{
		cfg:    cfg,
		store:  st,
		halter: h,
		log:    log,
		now:    time.Now,
	}
}

// SetClock replaces the time source used to stamp recorded events.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
}

// Evaluate runs the checks in priority order; the first match wins. m is nil
// when no operation is active, which skips the timeout and limit checks.
// Evaluate has no side effects.
func (s *Supervisor) Evaluate(snap sensor.Snapshot, m *Motion, now time.Time) Verdict {
	th := s.store.Thresholds()

	if m != nil && now.Sub(m.Started) > th.MaxOperationDuration {
		return Verdict{Event: Timeout, Message: fmt.Sprintf("Operation timeout exceeded (%s)", th.MaxOperationDuration)}
	}

	if s.cfg.ObstacleDetection && snap.Obstacle {
		return Verdict{Event: Obstacle, Message: "Obstacle detected in gate path"}
	}

	if s.cfg.CurrentMonitoring && snap.Current > th.MaxCurrent {
		return Verdict{Event: CurrentOverload, Message: fmt.Sprintf("Current overload: %.2fA", snap.Current)}
	}

	var warning string
	if s.cfg.TemperatureMonitoring {
		if snap.Temperature > th.MaxTemperature {
			return Verdict{Event: Overheat, Message: fmt.Sprintf("Overheat: %.1f°C", snap.Temperature)}
		}
		if snap.Temperature > th.WarningTemperature {
			warning = fmt.Sprintf("Temperature high (%.1f°C)", snap.Temperature)
		}
	}

	if m != nil {
		if m.Opening && snap.OpenLimit {
			return Verdict{Event: LimitSwitch, Message: "Open limit switch triggered", Warning: warning}
		}
		if !m.Opening && snap.CloseLimit {
			return Verdict{Event: LimitSwitch, Message: "Close limit switch triggered", Warning: warning}
		}
	}

	return Verdict{Event: Ok, Warning: warning}
}

// Trip runs the emergency stop path for v: halt the actuators, record the
// event, count the failure and escalate to safe mode when the limit is
// reached. It reports whether safe mode was entered. The actuators are
// halted even when persisting fails; the returned error reports the
// persistence failure.
func (s *Supervisor) Trip(v Verdict) (bool, error) {
	if !v.Event.IsTrip() {
		return false, fmt.Errorf("%s is not a trip event", v.Event)
	}

	var errs []error
	if err := s.halter.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt actuators: %w", err))
	}

	at := s.now()
	s.last, s.lastAt = v, at
	s.log.WithFields(logrus.Fields{
		"event": v.Event.String(),
	}).Errorf("EMERGENCY STOP: %s", v.Message)

	if err := s.store.AppendEvent(v.Event.String(), v.Message, at); err != nil {
		errs = append(errs, fmt.Errorf("record event: %w", err))
	}

	entered := false
	if v.Event.CountsAsFailure() {
		n, err := s.store.RecordFailure()
		if err != nil {
			errs = append(errs, fmt.Errorf("record failure: %w", err))
		}
		if n >= s.cfg.MaxConsecutiveFailures && !s.store.InSafeMode() {
			entered = true
			if err := s.enterSafeMode(v.Message); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return entered, errors.Join(errs...)
}

// Complete records a successful end of operation (target reached or an
// operator stop), which clears the consecutive-failure counter.
func (s *Supervisor) Complete() error {
	if err := s.store.ResetFailures(); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

// EnterSafeMode forces the lockout with the given reason.
func (s *Supervisor) EnterSafeMode(reason string) error {
	return s.enterSafeMode(reason)
}

func (s *Supervisor) enterSafeMode(reason string) error {
	s.log.WithField("reason", reason).Error("Entering SAFE MODE - all operations disabled")
	var errs []error
	if err := s.halter.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt actuators: %w", err))
	}
	if err := s.store.EnterSafeMode(reason); err != nil {
		errs = append(errs, fmt.Errorf("persist safe mode: %w", err))
	}
	return errors.Join(errs...)
}

// ExitSafeMode clears the lockout and the failure counter.
func (s *Supervisor) ExitSafeMode() error {
	if err := s.store.ExitSafeMode(); err != nil {
		return fmt.Errorf("exit safe mode: %w", err)
	}
	s.log.Info("Exited safe mode")
	return nil
}

// Last returns the most recent trip and when it happened.
func (s *Supervisor) Last() (Verdict, time.Time) {
	return s.last, s.lastAt
}
