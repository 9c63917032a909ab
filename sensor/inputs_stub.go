//go:build !linux

package sensor

import "errors"

// ErrNotSupported is returned when digital inputs are configured on a
// platform without the GPIO character device.
var ErrNotSupported = errors.New("gpio inputs not supported on this platform")

func openInputs(cfg Config) (Inputs, error) {
	if cfg.ObstaclePin == nil && cfg.OpenLimitPin == nil && cfg.CloseLimitPin == nil {
		return noInputs{}, nil
	}
	return nil, ErrNotSupported
}
