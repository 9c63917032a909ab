package main

import (
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited rejects a motion command that arrives too soon after the
// previous one.
var ErrRateLimited = errors.New("command rate limited")

// cooldown throttles motion commands from remote sources: a minimum gap
// between accepted commands plus a cap per minute. Zero values disable each
// limit.
type cooldown struct {
	limiters []*rate.Limiter
	now      func() time.Time
}

func newCooldown(gap time.Duration, perMin int) *cooldown {
	c := &cooldown{now: time.Now}
	if gap > 0 {
		c.limiters = append(c.limiters, rate.NewLimiter(rate.Every(gap), 1))
	}
	if perMin > 0 {
		c.limiters = append(c.limiters, rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin))
	}
	return c
}

// reserve takes a slot from every limiter, or returns ErrRateLimited and
// takes none. Calling release hands the slots back, for a command the gate
// went on to refuse.
func (c *cooldown) reserve() (release func(), err error) {
	now := c.now()
	held := make([]*rate.Reservation, 0, len(c.limiters))
	release = func() {
		for _, r := range held {
			r.CancelAt(now)
		}
	}
	for _, l := range c.limiters {
		r := l.ReserveN(now, 1)
		held = append(held, r)
		if !r.OK() || r.DelayFrom(now) > 0 {
			release()
			return nil, ErrRateLimited
		}
	}
	return release, nil
}
