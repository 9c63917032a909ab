//go:build linux

package sensor

import (
	"github.com/warthog618/go-gpiocdev"
)

type gpioInputs struct {
	lines *gpiocdev.Lines
	// index of each signal within lines, -1 when not wired
	obstacle, openLimit, closeLimit int
	vals                            []int
}

func openInputs(cfg Config) (Inputs, error) {
	if cfg.ObstaclePin == nil && cfg.OpenLimitPin == nil && cfg.CloseLimitPin == nil {
		return noInputs{}, nil
	}
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}

	g := &gpioInputs{obstacle: -1, openLimit: -1, closeLimit: -1}
	var offsets []int
	add := func(pin *int, idx *int) {
		if pin == nil {
			return
		}
		*idx = len(offsets)
		offsets = append(offsets, *pin)
	}
	add(cfg.ObstaclePin, &g.obstacle)
	add(cfg.OpenLimitPin, &g.openLimit)
	add(cfg.CloseLimitPin, &g.closeLimit)

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	if !cfg.ActiveHigh {
		opts = append(opts, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	}

	lines, err := gpiocdev.RequestLines(cfg.Chip, offsets, opts...)
	if err != nil {
		return nil, err
	}
	g.lines = lines
	g.vals = make([]int, len(offsets))
	return g, nil
}

func (g *gpioInputs) Read() (Digital, error) {
	if err := g.lines.Values(g.vals); err != nil {
		return Digital{}, err
	}
	return Digital{
		Obstacle:   g.active(g.obstacle),
		OpenLimit:  g.active(g.openLimit),
		CloseLimit: g.active(g.closeLimit),
	}, nil
}

func (g *gpioInputs) active(idx int) bool {
	return idx >= 0 && g.vals[idx] == 1
}

func (g *gpioInputs) Close() error {
	return g.lines.Close()
}
