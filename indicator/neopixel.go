package indicator

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoConnectionLost = "@2 !150000 001010"
	neoNormalIdle     = "@3 !150000 004000"
	neoOpening        = "@1 !50000 404000"
	neoClosing        = "@1 !50000 004040"
	neoTripped        = "@2 !10000 ff"
	neoSafeMode       = "@3 !150000 400000"
	neoTerminated     = "@0 010101"
)

// Neopixel implements Indicator using an external neopixel tool via named pipe.
type Neopixel struct {
	mu         sync.Mutex
	pipe       io.WriteCloser
	idleString string
}

// NewNeopixel opens the pipe of the neopixel tool.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}
	return newNeopixel(f), nil
}

func newNeopixel(w io.WriteCloser) *Neopixel {
	return &Neopixel{
		pipe:       w,
		idleString: neoNormalIdle,
	}
}

// Idle implements Indicator.Idle.
func (n *Neopixel) Idle() {
	n.mu.Lock()
	s := n.idleString
	n.mu.Unlock()
	n.write(s)
}

// Moving implements Indicator.Moving.
func (n *Neopixel) Moving(opening bool) {
	if opening {
		n.write(neoOpening)
	} else {
		n.write(neoClosing)
	}
}

// Tripped implements Indicator.Tripped.
func (n *Neopixel) Tripped(event string) {
	n.write(neoTripped)
}

// SafeMode implements Indicator.SafeMode.
func (n *Neopixel) SafeMode() {
	n.write(neoSafeMode)
}

// ConnectionLost implements Indicator.ConnectionLost. Idle shows the
// connection lost pattern until the connection is restored.
func (n *Neopixel) ConnectionLost() {
	n.mu.Lock()
	n.idleString = neoConnectionLost
	n.mu.Unlock()
	n.write(neoConnectionLost)
}

// ConnectionRestored implements Indicator.ConnectionRestored.
func (n *Neopixel) ConnectionRestored() {
	n.mu.Lock()
	n.idleString = neoNormalIdle
	n.mu.Unlock()
	n.write(neoNormalIdle)
}

// Shutdown implements Indicator.Shutdown.
func (n *Neopixel) Shutdown() {
	n.write(neoTerminated)
}

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pipe == nil {
		return nil
	}
	err := n.pipe.Close()
	n.pipe = nil
	return err
}

func (n *Neopixel) write(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pipe != nil {
		n.pipe.Write([]byte(s))
	}
}
