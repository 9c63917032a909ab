package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
)

const defaultStaleAfter = 2 * time.Second

// Feeder resets the external execution watchdog.
type Feeder interface {
	Feed() error
}

// Hooks are called from the loop goroutine and must not block for long.
type Hooks struct {
	OnStatus   func(Status)
	OnTrip     func(safety.Verdict, time.Time)
	OnSnapshot func(sensor.Snapshot)
}

type nopFeeder struct{}

func (nopFeeder) Feed() error { return nil }

type LoopConfig struct {
	Tick       time.Duration
	StaleAfter time.Duration
	Watchdog   Feeder
	Hooks      Hooks
}

type request struct {
	cmd   Command
	reply chan error
}

// Loop owns a Controller and processes ticks and commands one at a time on
// a single goroutine.
type Loop struct {
	ctrl    *Controller
	sensors sensor.Adapter
	cfg     LoopConfig
	log     logrus.FieldLogger

	reqs chan request
	done chan struct{}

	lastRead time.Time
	lastTrip time.Time

	mu     sync.RWMutex
	status Status
}

func NewLoop(ctrl *Controller, sensors sensor.Adapter, cfg LoopConfig) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Watchdog == nil {
		cfg.Watchdog = nopFeeder{}
	}
	_, lastTrip := ctrl.sv.Last()
	return &Loop{
		ctrl:     ctrl,
		sensors:  sensors,
		cfg:      cfg,
		log:      ctrl.log,
		reqs:     make(chan request),
		done:     make(chan struct{}),
		lastTrip: lastTrip,
		status:   ctrl.Status(),
	}
}

// Run processes ticks and commands until ctx is cancelled, then halts the
// actuators. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	l.lastRead = l.ctrl.now()
	defer close(l.done)

	l.log.WithFields(logrus.Fields{
		"state":    l.ctrl.State().String(),
		"position": l.ctrl.Position(),
	}).Info("Gate loop started")

	for {
		var interlock <-chan time.Time
		if at, ok := l.ctrl.Deadline(); ok {
			interlock = time.After(time.Until(at))
		}

		select {
		case <-ctx.Done():
			err := l.ctrl.Shutdown()
			l.publish()
			l.log.Info("Gate loop stopped")
			return err
		case <-ticker.C:
			l.tick(ctx)
		case <-interlock:
			if err := l.ctrl.Service(l.ctrl.now()); err != nil {
				l.log.WithError(err).Error("Interlock service failed")
			}
		case r := <-l.reqs:
			err := l.apply(r.cmd)
			l.publish()
			r.reply <- err
		}
		l.publish()
	}
}

func (l *Loop) tick(ctx context.Context) {
	if err := l.cfg.Watchdog.Feed(); err != nil {
		l.log.WithError(err).Warn("Watchdog feed failed")
	}

	snap, err := l.sensors.ReadSnapshot(ctx)
	now := l.ctrl.now()
	if err != nil {
		stale := now.Sub(l.lastRead)
		l.log.WithError(err).Debug("Sensor read failed")
		if l.ctrl.State().Moving() && stale > l.cfg.StaleAfter {
			msg := fmt.Sprintf("Sensor readings stale for %s", stale.Round(time.Millisecond))
			if err := l.ctrl.EmergencyStop(safety.WatchdogExpired, msg); err != nil {
				l.log.WithError(err).Error("Watchdog trip failed")
			}
		}
		return
	}
	l.lastRead = now

	if _, err := l.ctrl.Tick(snap); err != nil {
		l.log.WithError(err).Error("Tick failed")
	}
	if l.cfg.Hooks.OnSnapshot != nil {
		l.cfg.Hooks.OnSnapshot(snap)
	}
}

func (l *Loop) apply(cmd Command) error {
	l.log.WithFields(logrus.Fields{
		"command": cmd.String(),
		"source":  cmd.Source,
	}).Debug("Command received")

	c := l.ctrl
	switch cmd.Kind {
	case CmdOpen:
		return c.RequestOpen()
	case CmdClose:
		return c.RequestClose()
	case CmdStop:
		return c.RequestStop()
	case CmdPartial:
		return c.RequestPartial(cmd.Percent)
	case CmdEmergencyStop:
		msg := cmd.Reason
		if msg == "" {
			msg = "Manual emergency stop activated"
		}
		return c.EmergencyStop(safety.ManualStop, msg)
	case CmdEnterSafeMode:
		return c.EnterSafeMode(cmd.Reason)
	case CmdExitSafeMode:
		return c.ExitSafeMode()
	case CmdSetThreshold:
		return c.SetThreshold(cmd.Name, cmd.Value)
	}
	return fmt.Errorf("unsupported command %s", cmd.Kind)
}

// publish refreshes the cached status and runs the hooks for anything that
// changed since the previous event.
func (l *Loop) publish() {
	if v, at := l.ctrl.sv.Last(); at.After(l.lastTrip) {
		l.lastTrip = at
		if l.cfg.Hooks.OnTrip != nil {
			l.cfg.Hooks.OnTrip(v, at)
		}
	}

	s := l.ctrl.Status()
	l.mu.Lock()
	changed := s != l.status
	l.status = s
	l.mu.Unlock()
	if changed && l.cfg.Hooks.OnStatus != nil {
		l.cfg.Hooks.OnStatus(s)
	}
}

// Status returns the status as of the last processed event. Safe for
// concurrent use.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Dispatch hands cmd to the loop and waits for its outcome. It blocks until
// Run picks the command up, ctx ends or the loop has stopped.
func (l *Loop) Dispatch(ctx context.Context, cmd Command) error {
	r := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case l.reqs <- r:
	case <-l.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Open(ctx context.Context) error {
	return l.Dispatch(ctx, Command{Kind: CmdOpen})
}

func (l *Loop) Close(ctx context.Context) error {
	return l.Dispatch(ctx, Command{Kind: CmdClose})
}

func (l *Loop) Stop(ctx context.Context) error {
	return l.Dispatch(ctx, Command{Kind: CmdStop})
}

func (l *Loop) Partial(ctx context.Context, pct int) error {
	return l.Dispatch(ctx, Command{Kind: CmdPartial, Percent: pct})
}

func (l *Loop) EmergencyStop(ctx context.Context, reason string) error {
	return l.Dispatch(ctx, Command{Kind: CmdEmergencyStop, Reason: reason})
}

func (l *Loop) EnterSafeMode(ctx context.Context, reason string) error {
	return l.Dispatch(ctx, Command{Kind: CmdEnterSafeMode, Reason: reason})
}

func (l *Loop) ExitSafeMode(ctx context.Context) error {
	return l.Dispatch(ctx, Command{Kind: CmdExitSafeMode})
}

func (l *Loop) SetThreshold(ctx context.Context, name, value string) error {
	return l.Dispatch(ctx, Command{Kind: CmdSetThreshold, Name: name, Value: value})
}
