package gate

import "fmt"

// State is the gate's operation state. Opening and Closing are the only
// states in which an actuator may be energized.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
	Stopped
	Error
)

var stateNames = [...]string{
	Closed:  "closed",
	Opening: "opening",
	Open:    "open",
	Closing: "closing",
	Stopped: "stopped",
	Error:   "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Moving reports whether an operation is in progress.
func (s State) Moving() bool {
	return s == Opening || s == Closing
}

// Direction of travel. Position grows while opening.
type Direction int

const (
	Still Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "open"
	case Down:
		return "close"
	}
	return "none"
}

func (d Direction) state() State {
	if d == Up {
		return Opening
	}
	return Closing
}

// stateFromPosition is the resting state for a stored position.
func stateFromPosition(pos int) State {
	switch {
	case pos <= 0:
		return Closed
	case pos >= 100:
		return Open
	}
	return Stopped
}
