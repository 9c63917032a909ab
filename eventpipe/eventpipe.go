// Package eventpipe accepts text commands on a named pipe, for local
// operators and test rigs.
package eventpipe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
)

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/run/gatemate/commands")
}

// Handlers receive parsed lines. Any may be nil.
type Handlers struct {
	OnCommand func(gate.Command)
	OnStatus  func()
	OnSensor  func(name, value string)
}

// EventPipe listens for commands on a named pipe.
type EventPipe struct {
	path     string
	handlers Handlers
	log      logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates the named pipe. Returns nil if path is empty.
func New(cfg Config, handlers Handlers, log logrus.FieldLogger) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	os.Remove(cfg.Path)
	if err := syscall.Mkfifo(cfg.Path, 0660); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventPipe{
		path:     cfg.Path,
		handlers: handlers,
		log:      log.WithField("pipe", cfg.Path),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins listening for commands on the pipe.
// This should be called as a goroutine.
func (ep *EventPipe) Start() {
	ep.log.Info("Event pipe listening")

	for {
		if ep.ctx.Err() != nil {
			return
		}

		// Blocks until a writer connects; Close connects a writer to
		// release it.
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			ep.log.WithError(err).Error("Event pipe open failed")
			return
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if ep.ctx.Err() != nil {
				file.Close()
				return
			}
			ep.handle(scanner.Text())
		}
		file.Close()
	}
}

func (ep *EventPipe) handle(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	req, err := parseLine(line)
	if err != nil {
		ep.log.WithError(err).Warn("Event pipe parse error")
		return
	}

	h := ep.handlers
	switch req.kind {
	case reqCommand:
		if h.OnCommand != nil {
			req.cmd.Source = "pipe"
			h.OnCommand(req.cmd)
		}
	case reqStatus:
		if h.OnStatus != nil {
			h.OnStatus()
		}
	case reqSensor:
		if h.OnSensor != nil {
			h.OnSensor(req.name, req.value)
		}
	}
}

// Close stops the listener and removes the pipe.
func (ep *EventPipe) Close() error {
	ep.cancel()
	if w, err := os.OpenFile(ep.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		w.Close()
	}
	return os.Remove(ep.path)
}

type reqKind int

const (
	reqCommand reqKind = iota
	reqStatus
	reqSensor
)

type request struct {
	kind  reqKind
	cmd   gate.Command
	name  string
	value string
}

// parseLine parses a command line.
// Command format:
//
//	open | close | stop             - Motion commands
//	partial <0-100>                 - Move to a percentage
//	estop [reason...]               - Emergency stop
//	enter-safe-mode [reason...]     - Force the lockout
//	exit-safe-mode                  - Clear the lockout
//	set <threshold> <value>         - Update a persisted threshold
//	status                          - Log the current status
//	sensor <name> <value>           - Override a simulated sensor reading
func parseLine(line string) (request, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return request{}, fmt.Errorf("empty command")
	}

	word := strings.ToLower(parts[0])
	switch word {
	case "status":
		return request{kind: reqStatus}, nil
	case "sensor":
		if len(parts) != 3 {
			return request{}, fmt.Errorf("sensor requires <name> <value>")
		}
		return request{kind: reqSensor, name: strings.ToLower(parts[1]), value: parts[2]}, nil
	}

	kind, err := gate.ParseCommandKind(word)
	if err != nil {
		return request{}, err
	}
	cmd := gate.Command{Kind: kind}

	switch kind {
	case gate.CmdPartial:
		if len(parts) != 2 {
			return request{}, fmt.Errorf("partial requires a percentage")
		}
		pct, err := strconv.Atoi(strings.TrimSuffix(parts[1], "%"))
		if err != nil {
			return request{}, fmt.Errorf("invalid percentage: %s", parts[1])
		}
		cmd.Percent = pct
	case gate.CmdSetThreshold:
		if len(parts) != 3 {
			return request{}, fmt.Errorf("set requires <name> <value>")
		}
		cmd.Name, cmd.Value = parts[1], parts[2]
	case gate.CmdEmergencyStop, gate.CmdEnterSafeMode:
		cmd.Reason = strings.Join(parts[1:], " ")
	default:
		if len(parts) != 1 {
			return request{}, fmt.Errorf("%s takes no arguments", word)
		}
	}
	return request{kind: reqCommand, cmd: cmd}, nil
}
