package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Static is an Adapter whose readings are set in software. It stands in for
// hardware on development hosts and lets test rigs inject faults.
type Static struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewStatic returns a Static adapter with all readings at rest.
func NewStatic() *Static {
	return &Static{now: time.Now}
}

// ReadSnapshot implements Adapter.ReadSnapshot.
func (s *Static) ReadSnapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.At = s.now()
	return snap, nil
}

// Update applies fn to the stored readings.
func (s *Static) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

// Set changes one reading by name: current, voltage, temperature, obstacle,
// open_limit or close_limit.
func (s *Static) Set(name, value string) error {
	name = strings.ToLower(name)
	switch name {
	case "current", "voltage", "temperature", "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q", name, value)
		}
		s.Update(func(snap *Snapshot) {
			switch name {
			case "current":
				snap.Current = f
			case "voltage":
				snap.Voltage = f
			default:
				snap.Temperature = f
			}
		})
	case "obstacle", "open_limit", "close_limit":
		b := value == "1" || strings.EqualFold(value, "true") || strings.EqualFold(value, "on")
		s.Update(func(snap *Snapshot) {
			switch name {
			case "obstacle":
				snap.Obstacle = b
			case "open_limit":
				snap.OpenLimit = b
			default:
				snap.CloseLimit = b
			}
		})
	default:
		return fmt.Errorf("unknown sensor: %s", name)
	}
	return nil
}

// Close implements Adapter.Close.
func (s *Static) Close() error {
	return nil
}
