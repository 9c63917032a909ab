// Package sensor turns raw hardware readings into immutable per-tick
// snapshots in engineering units.
package sensor

import (
	"context"
	"time"
)

// Snapshot is a single-instant bundle of readings. It is a value: adapters
// build a fresh one per read and nothing mutates it afterwards.
type Snapshot struct {
	Current     float64   `json:"current"`     // amperes
	Voltage     float64   `json:"voltage"`     // volts
	Temperature float64   `json:"temperature"` // °C
	Obstacle    bool      `json:"obstacle"`
	OpenLimit   bool      `json:"openLimit"`
	CloseLimit  bool      `json:"closeLimit"`
	At          time.Time `json:"timestamp"`
}

// Adapter produces snapshots on demand.
type Adapter interface {
	// ReadSnapshot returns the latest readings without blocking for longer
	// than a hardware round trip.
	ReadSnapshot(ctx context.Context) (Snapshot, error)

	// Close releases any hardware resources.
	Close() error
}
