// Package safety decides when a moving gate must be stopped and escalates
// repeated failures into a persisted safe-mode lockout.
package safety

import "fmt"

// Event is the outcome of one supervisor evaluation.
type Event int

const (
	Ok Event = iota
	Timeout
	Obstacle
	CurrentOverload
	Overheat
	LimitSwitch
	WatchdogExpired
	ManualStop
)

var eventNames = [...]string{
	Ok:              "ok",
	Timeout:         "timeout",
	Obstacle:        "obstacle",
	CurrentOverload: "current_overload",
	Overheat:        "overheat",
	LimitSwitch:     "limit_switch",
	WatchdogExpired: "watchdog_expired",
	ManualStop:      "manual_stop",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// MarshalText renders the event as its machine-readable name.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// ParseEvent is the inverse of Event.String.
func ParseEvent(s string) (Event, error) {
	for i, name := range eventNames {
		if name == s {
			return Event(i), nil
		}
	}
	return Ok, fmt.Errorf("unknown safety event %q", s)
}

// IsTrip reports whether the event forces an emergency stop. A limit switch
// is the normal end of travel, not a trip.
func (e Event) IsTrip() bool {
	return e != Ok && e != LimitSwitch
}

// CountsAsFailure reports whether the event increments the consecutive
// failure counter. Operator stops are not operational failures.
func (e Event) CountsAsFailure() bool {
	return e.IsTrip() && e != ManualStop
}

// Verdict is an event plus its human-readable message. Warning carries a
// non-terminal notice (high temperature) and may accompany any event.
type Verdict struct {
	Event   Event  `json:"kind"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}
