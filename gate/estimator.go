package gate

import "time"

// Estimator derives the gate position while an actuator is energized. The
// timed estimator below is open-loop; an encoder-backed implementation can
// replace it without touching the controller.
type Estimator interface {
	// Reset is called whenever an actuator is energized.
	Reset()
	// Advance returns the new position given the current one, the direction
	// of travel and the time spent energized since Reset.
	Advance(pos int, dir Direction, energized time.Duration) int
}

const (
	DefaultStep         = 5
	DefaultStepInterval = 300 * time.Millisecond
)

// TimedEstimator moves the position by Step every Interval of energized
// time. At most one step is applied per call; energized time not yet
// credited carries over to the next call, so the cadence holds when the
// tick period does not divide Interval.
type TimedEstimator struct {
	Step     int
	Interval time.Duration

	credited time.Duration
}

func NewTimedEstimator(step int, interval time.Duration) *TimedEstimator {
	if step <= 0 {
		step = DefaultStep
	}
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	return &TimedEstimator{Step: step, Interval: interval}
}

func (e *TimedEstimator) Reset() {
	e.credited = 0
}

func (e *TimedEstimator) Advance(pos int, dir Direction, energized time.Duration) int {
	if dir == Still || energized-e.credited < e.Interval {
		return pos
	}
	e.credited += e.Interval

	switch dir {
	case Up:
		pos += e.Step
	case Down:
		pos -= e.Step
	}
	return clampPercent(pos)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
