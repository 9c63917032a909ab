package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// ErrStale is returned when the bridge has not delivered an analog frame
// within MaxAge.
var ErrStale = errors.New("analog readings are stale")

const defaultMaxAge = time.Second

// Bridge reads analog channels from a serial ADC bridge (a small MCU that
// streams raw counts) and digital inputs from GPIO.
// Frame format, one per line: ADC,<current>,<voltage>,<temperature>
type Bridge struct {
	port   io.ReadCloser
	inputs Inputs
	cal    Calibration
	maxAge time.Duration
	log    logrus.FieldLogger
	now    func() time.Time

	mu    sync.Mutex
	raw   rawFrame
	rawAt time.Time

	done chan struct{}
}

type rawFrame struct {
	current, voltage, temperature int
}

// OpenBridge opens the bridge serial port and starts the frame reader.
func OpenBridge(cfg Config, inputs Inputs, log logrus.FieldLogger) (*Bridge, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	log.Infof("ADC bridge on %s at %d baud", cfg.Device, baud)
	return newBridge(port, inputs, cfg, log), nil
}

func newBridge(port io.ReadCloser, inputs Inputs, cfg Config, log logrus.FieldLogger) *Bridge {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	b := &Bridge{
		port:   port,
		inputs: inputs,
		cal:    cfg.Calibration.withDefaults(),
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go b.readFrames()
	return b
}

func (b *Bridge) readFrames() {
	defer close(b.done)
	r := bufio.NewReader(b.port)
	var partial string
	for {
		line, err := r.ReadString('\n')
		partial += line
		if err != nil {
			if b.closed() {
				return
			}
			// tarm/serial reports an expired read timeout as EOF
			if errors.Is(err, io.EOF) || isTimeout(err) {
				continue
			}
			b.log.WithError(err).Error("ADC bridge read failed")
			return
		}

		frame, perr := parseFrame(strings.TrimSpace(partial))
		partial = ""
		if perr != nil {
			b.log.WithError(perr).Debug("Dropping ADC bridge line")
			continue
		}
		b.mu.Lock()
		b.raw = frame
		b.rawAt = b.now()
		b.mu.Unlock()
	}
}

func (b *Bridge) closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port == nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// parseFrame decodes "ADC,<current>,<voltage>,<temperature>".
func parseFrame(line string) (rawFrame, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 || parts[0] != "ADC" {
		return rawFrame{}, fmt.Errorf("malformed frame %q", line)
	}
	var vals [3]int
	for i, p := range parts[1:] {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return rawFrame{}, fmt.Errorf("invalid count %q", p)
		}
		if v < 0 {
			return rawFrame{}, fmt.Errorf("negative count %d", v)
		}
		vals[i] = v
	}
	return rawFrame{current: vals[0], voltage: vals[1], temperature: vals[2]}, nil
}

// ReadSnapshot implements Adapter.ReadSnapshot.
func (b *Bridge) ReadSnapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	now := b.now()

	b.mu.Lock()
	raw, at := b.raw, b.rawAt
	b.mu.Unlock()

	if at.IsZero() || now.Sub(at) > b.maxAge {
		return Snapshot{}, ErrStale
	}

	dig, err := b.inputs.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read digital inputs: %w", err)
	}

	return Snapshot{
		Current:     b.cal.Current(raw.current),
		Voltage:     b.cal.Voltage(raw.voltage),
		Temperature: b.cal.Temperature(raw.temperature),
		Obstacle:    dig.Obstacle,
		OpenLimit:   dig.OpenLimit,
		CloseLimit:  dig.CloseLimit,
		At:          now,
	}, nil
}

// Close implements Adapter.Close.
func (b *Bridge) Close() error {
	b.mu.Lock()
	port := b.port
	b.port = nil
	b.mu.Unlock()
	if port == nil {
		return nil
	}
	err := port.Close()
	<-b.done
	if ierr := b.inputs.Close(); err == nil {
		err = ierr
	}
	return err
}
