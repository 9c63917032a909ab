package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/buttons"
	"github.com/Muhammad-Fauzan22/gatemate-iot/eventpipe"
	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
	"github.com/Muhammad-Fauzan22/gatemate-iot/indicator"
	"github.com/Muhammad-Fauzan22/gatemate-iot/mqtt"
	"github.com/Muhammad-Fauzan22/gatemate-iot/relay"
	"github.com/Muhammad-Fauzan22/gatemate-iot/remote"
	"github.com/Muhammad-Fauzan22/gatemate-iot/safety"
	"github.com/Muhammad-Fauzan22/gatemate-iot/sensor"
	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
	"github.com/Muhammad-Fauzan22/gatemate-iot/watchdog"
)

const dispatchTimeout = 2 * time.Second

// App holds the application state and dependencies.
type App struct {
	cfg *Config
	log *logrus.Logger

	store     *store.Store
	relays    *relay.Pair
	sensors   sensor.Adapter
	loop      *gate.Loop
	watchdog  watchdog.Watchdog
	indicator indicator.Indicator
	buttons   *buttons.Buttons
	remote    *remote.Remote
	pipe      *eventpipe.EventPipe
	mqtt      *mqtt.Client
	bus       *bus
	limiter   *cooldown

	indMu   sync.Mutex // guards indicator and tripped
	tripped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// openStore opens the threshold store under the configured state directory.
func openStore(cfg *Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.statePath(), 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	backend, err := store.NewDir(cfg.statePath())
	if err != nil {
		return nil, err
	}
	st, err := store.Open(backend, cfg.Safety.Thresholds, cfg.Safety.EventCapacity)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// runDaemon builds the controller and its adapters and runs until SIGINT or
// SIGTERM.
func runDaemon(cfg *Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{
		cfg:     cfg,
		log:     log,
		limiter: newCooldown(cfg.CommandCooldown, cfg.CommandsPerMin),
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := app.init(); err != nil {
		app.cleanup()
		return err
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- app.loop.Run(ctx) }()

	if app.pipe != nil {
		go app.pipe.Start()
	}
	if app.remote != nil {
		go func() {
			if err := app.remote.Run(ctx, app.submit); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Remote input stopped")
			}
		}()
	}
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.WithError(err).Error("MQTT connect")
		}
	}()
	go app.heartbeat()

	s := app.loop.Status()
	log.WithFields(logrus.Fields{
		"device":   cfg.DeviceID,
		"state":    s.State,
		"position": s.Position,
		"safeMode": s.SafeMode,
	}).Info("Gate controller running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Shutting down")
		cancel()
		runErr = <-loopErr
	case runErr = <-loopErr:
		log.WithError(runErr).Error("Control loop exited")
	}

	if app.mqtt.IsConnected() {
		app.mqtt.Publish(app.bus.topic("status"), app.bus.offlineStatus(app.loop.Status()), true)
	}
	app.cleanup()
	log.Info("Shutdown complete")
	return runErr
}

func (app *App) init() error {
	cfg, log := app.cfg, app.log
	var err error

	if app.store, err = openStore(cfg); err != nil {
		return err
	}

	if app.relays, err = relay.New(cfg.Relay); err != nil {
		return fmt.Errorf("init relays: %w", err)
	}

	if app.sensors, err = sensor.New(cfg.Sensor, log.WithField("component", "sensor")); err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}

	sv := safety.New(cfg.Safety.Config, app.store, app.relays, log.WithField("component", "safety"))
	ctrl, err := gate.New(cfg.Gate, gate.Deps{
		Actuators:  app.relays,
		Supervisor: sv,
		Store:      app.store,
		Log:        log.WithField("component", "gate"),
	})
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	if app.watchdog, err = watchdog.New(cfg.Watchdog); err != nil {
		return fmt.Errorf("init watchdog: %w", err)
	}

	if app.indicator, err = indicator.New(cfg.Indicator); err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	app.indicator.ConnectionLost()

	app.loop = gate.NewLoop(ctrl, app.sensors, gate.LoopConfig{
		Tick:       cfg.Gate.Tick,
		StaleAfter: cfg.Safety.SensorStaleTimeout,
		Watchdog:   app.watchdog,
		Hooks: gate.Hooks{
			OnStatus:   app.onStatus,
			OnTrip:     app.onTrip,
			OnSnapshot: app.onSnapshot,
		},
	})

	app.buttons, err = buttons.New(cfg.Buttons, buttons.Handlers{
		OnOpen:      func() { app.submit(gate.Command{Kind: gate.CmdOpen, Source: "button"}) },
		OnClose:     func() { app.submit(gate.Command{Kind: gate.CmdClose, Source: "button"}) },
		OnStop:      func() { app.submit(gate.Command{Kind: gate.CmdStop, Source: "button"}) },
		OnEmergency: func() { app.submit(gate.Command{Kind: gate.CmdEmergencyStop, Source: "button"}) },
	})
	if err != nil {
		return fmt.Errorf("init buttons: %w", err)
	}

	if app.remote, err = remote.New(cfg.Remote, log.WithField("component", "remote")); err != nil {
		return fmt.Errorf("init remote: %w", err)
	}

	app.pipe, err = eventpipe.New(cfg.EventPipe, eventpipe.Handlers{
		OnCommand: app.submit,
		OnStatus:  app.logStatus,
		OnSensor:  app.setSensor,
	}, log.WithField("component", "pipe"))
	if err != nil {
		return fmt.Errorf("init event pipe: %w", err)
	}

	app.bus = &bus{
		deviceID:    cfg.DeviceID,
		prefix:      cfg.MQTT.TopicPrefix,
		secret:      cfg.MQTT.CommandSecret,
		log:         log.WithField("component", "bus"),
		now:         time.Now,
		sensorEvery: cfg.MQTT.SensorInterval,
	}
	mqtt.RouteLogs(log)
	app.mqtt, err = mqtt.New(cfg.MQTT.Config, cfg.DeviceID, &mqtt.Will{
		Topic:    app.bus.topic("status"),
		Payload:  app.bus.offlineStatus(app.loop.Status()),
		Retained: true,
	}, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnMessage:    app.onMQTTMessage,
	}, log.WithField("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	app.bus.pub = app.mqtt
	return nil
}

// cleanup releases whatever init managed to acquire. The loop has already
// halted the relays when it returned.
func (app *App) cleanup() {
	log := app.log
	if app.mqtt != nil {
		app.mqtt.Disconnect()
	}
	if app.pipe != nil {
		if err := app.pipe.Close(); err != nil {
			log.WithError(err).Warn("Close event pipe")
		}
	}
	if app.remote != nil {
		app.remote.Close()
	}
	if app.buttons != nil {
		app.buttons.Release()
	}
	if app.indicator != nil {
		app.indMu.Lock()
		app.indicator.Shutdown()
		app.indMu.Unlock()
		app.indicator.Release()
	}
	if app.sensors != nil {
		app.sensors.Close()
	}
	if app.relays != nil {
		if err := app.relays.Release(); err != nil {
			log.WithError(err).Error("Release relays")
		}
	}
	if app.watchdog != nil {
		if err := app.watchdog.Close(); err != nil {
			log.WithError(err).Warn("Close watchdog")
		}
	}
}

// submit hands a command from an input adapter to the control loop. Motion
// commands from the bus and the handheld remote go through the cooldown;
// stop and emergency stop never do. A command the gate refuses gives its
// cooldown slot back.
func (app *App) submit(cmd gate.Command) {
	log := app.log.WithFields(logrus.Fields{"command": cmd.String(), "source": cmd.Source})

	release := func() {}
	if cmd.Kind.Moves() && (cmd.Source == "mqtt" || cmd.Source == "remote") {
		r, err := app.limiter.reserve()
		if err != nil {
			log.Warn("Command rate limited")
			app.reject(cmd, err)
			return
		}
		release = r
	}

	ctx, cancel := context.WithTimeout(app.ctx, dispatchTimeout)
	defer cancel()
	if err := app.loop.Dispatch(ctx, cmd); err != nil {
		release()
		log.WithError(err).Warn("Command rejected")
		app.reject(cmd, err)
		return
	}
	log.Info("Command accepted")
}

func (app *App) reject(cmd gate.Command, err error) {
	if cmd.Source == "mqtt" && app.mqtt.IsConnected() {
		app.bus.publishRejection(cmd, err)
	}
}

// onStatus runs on the loop goroutine.
func (app *App) onStatus(s gate.Status) {
	app.show(s)
	if app.mqtt.IsConnected() {
		app.bus.publishStatus(s)
	}
}

func (app *App) onTrip(v safety.Verdict, at time.Time) {
	app.indMu.Lock()
	app.tripped = true
	app.indicator.Tripped(v.Event.String())
	app.indMu.Unlock()
	if app.mqtt.IsConnected() {
		app.bus.publishEvent(v, at)
	}
}

func (app *App) onSnapshot(snap sensor.Snapshot) {
	if app.mqtt.IsConnected() {
		app.bus.publishSensors(snap)
	}
}

// show maps the gate status onto the indicator. A tripped pattern holds
// until the next motion starts.
func (app *App) show(s gate.Status) {
	app.indMu.Lock()
	defer app.indMu.Unlock()
	if s.State.Moving() {
		app.tripped = false
	}
	switch {
	case s.SafeMode:
		app.indicator.SafeMode()
	case s.State == gate.Opening:
		app.indicator.Moving(true)
	case s.State == gate.Closing:
		app.indicator.Moving(false)
	case app.tripped:
		app.indicator.Tripped(s.LastEvent)
	default:
		app.indicator.Idle()
	}
}

func (app *App) onMQTTConnect() {
	if err := app.mqtt.Subscribe(app.bus.topic("commands")); err != nil {
		app.log.WithError(err).Error("Subscribe to commands")
	}
	app.indMu.Lock()
	app.indicator.ConnectionRestored()
	app.indMu.Unlock()

	s := app.loop.Status()
	app.show(s)
	app.bus.publishStatus(s)
}

func (app *App) onMQTTDisconnect() {
	app.indMu.Lock()
	app.indicator.ConnectionLost()
	app.indMu.Unlock()
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	if topic != app.bus.topic("commands") {
		return
	}
	cmd, err := app.bus.parseCommand(payload)
	if err != nil {
		app.log.WithError(err).WithField("topic", topic).Warn("Bad command message")
		return
	}
	app.submit(cmd)
}

// heartbeat republishes the status so dashboards can tell a silent gate
// from a dead one.
func (app *App) heartbeat() {
	ticker := time.NewTicker(app.cfg.MQTT.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			if app.mqtt.IsConnected() {
				app.bus.publishStatus(app.loop.Status())
			}
		}
	}
}

func (app *App) logStatus() {
	s := app.loop.Status()
	app.log.WithFields(logrus.Fields{
		"state":    s.State,
		"position": s.Position,
		"obstacle": s.Obstacle,
		"safeMode": s.SafeMode,
		"failures": s.Failures,
		"event":    s.LastEvent,
		"warning":  s.Warning,
	}).Info("Gate status")
}

// setSensor overrides a reading on the software adapter.
func (app *App) setSensor(name, value string) {
	static, ok := app.sensors.(*sensor.Static)
	if !ok {
		app.log.WithField("sensor", name).Warn("Sensor override needs the static adapter")
		return
	}
	if err := static.Set(name, value); err != nil {
		app.log.WithError(err).Warn("Sensor override")
	}
}
