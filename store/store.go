// Package store keeps the controller's durable state: safety thresholds, the
// consecutive-failure ledger, the safe-mode lockout, a bounded ring of recent
// safety events and the last known gate position. Every field lives under its
// own key so a crash while writing one can never corrupt another.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Persisted keys.
const (
	KeyMaxOperationTime    = "maxOperationTime"
	KeyMaxCurrent          = "maxCurrent"
	KeyMaxTemperature      = "maxTemperature"
	KeySafeMode            = "safeMode"
	KeySafeModeReason      = "safeModeReason"
	KeyConsecutiveFailures = "consecutiveFailures"
	KeyPosition            = "position"

	eventKeyPrefix = "event_"
)

// DefaultEventCapacity is the number of safety events kept for postmortems.
const DefaultEventCapacity = 10

var (
	ErrUnknownThreshold = errors.New("unknown threshold")
	ErrInvalidValue     = errors.New("invalid threshold value")
)

// Thresholds are the limits the safety supervisor enforces.
type Thresholds struct {
	MaxOperationDuration time.Duration `yaml:"max_operation_time"`
	MaxCurrent           float64       `yaml:"max_current"`
	MaxTemperature       float64       `yaml:"max_temperature"`
	WarningTemperature   float64       `yaml:"warning_temperature"`
}

// Ledger is the failure-escalation state.
type Ledger struct {
	ConsecutiveFailures int
	SafeMode            bool
	SafeModeReason      string
}

// EventRecord is one entry of the safety event ring.
type EventRecord struct {
	Seq     uint64    `yaml:"seq" json:"seq"`
	Kind    string    `yaml:"kind" json:"kind"`
	At      time.Time `yaml:"at" json:"at"`
	Message string    `yaml:"message" json:"message"`
}

// Store is the threshold store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	capacity int

	thresholds Thresholds
	ledger     Ledger
	events     []EventRecord
	nextSeq    uint64
	position   int
	hasPos     bool
}

// Open loads the persisted state from backend. Keys that were never written
// fall back to defaults. capacity <= 0 selects DefaultEventCapacity.
func Open(backend Backend, defaults Thresholds, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	s := &Store{
		backend:    backend,
		capacity:   capacity,
		thresholds: defaults,
	}

	if err := s.load(KeyMaxOperationTime, &s.thresholds.MaxOperationDuration); err != nil {
		return nil, err
	}
	if err := s.load(KeyMaxCurrent, &s.thresholds.MaxCurrent); err != nil {
		return nil, err
	}
	if err := s.load(KeyMaxTemperature, &s.thresholds.MaxTemperature); err != nil {
		return nil, err
	}
	if err := s.load(KeySafeMode, &s.ledger.SafeMode); err != nil {
		return nil, err
	}
	if err := s.load(KeySafeModeReason, &s.ledger.SafeModeReason); err != nil {
		return nil, err
	}
	if err := s.load(KeyConsecutiveFailures, &s.ledger.ConsecutiveFailures); err != nil {
		return nil, err
	}

	var pos int
	ok, err := s.loadOK(KeyPosition, &pos)
	if err != nil {
		return nil, err
	}
	if ok && pos >= 0 && pos <= 100 {
		s.position, s.hasPos = pos, true
	}

	if err := s.loadEvents(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(key string, out interface{}) error {
	_, err := s.loadOK(key, out)
	return err
}

func (s *Store) loadOK(key string, out interface{}) (bool, error) {
	data, ok, err := s.backend.Get(key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) loadEvents() error {
	keys, err := s.backend.Keys()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	type slot struct {
		key string
		rec EventRecord
	}
	var found []slot
	var stale []string
	for _, key := range keys {
		if !strings.HasPrefix(key, eventKeyPrefix) {
			continue
		}
		var rec EventRecord
		ok, err := s.loadOK(key, &rec)
		if err != nil {
			// A torn event record is not worth refusing to start over.
			continue
		}
		if ok {
			found = append(found, slot{key, rec})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].rec.Seq < found[j].rec.Seq })

	// Keep what fits the ring. Anything else, including records left in
	// slots beyond a capacity that has since shrunk, is deleted.
	var kept []slot
	if n := len(found); n > 0 {
		newest := found[n-1].rec.Seq
		for _, sl := range found {
			if newest-sl.rec.Seq < uint64(s.capacity) {
				kept = append(kept, sl)
			} else {
				stale = append(stale, sl.key)
			}
		}
		s.nextSeq = newest + 1
	}

	homes := make(map[string]bool, len(kept))
	for _, sl := range kept {
		home := s.eventKey(sl.rec.Seq)
		homes[home] = true
		if home != sl.key {
			if err := s.put(home, sl.rec); err != nil {
				return err
			}
			stale = append(stale, sl.key)
		}
		s.events = append(s.events, sl.rec)
	}
	for _, key := range stale {
		if homes[key] {
			continue
		}
		if err := s.backend.Delete(key); err != nil {
			return fmt.Errorf("drop %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) eventKey(seq uint64) string {
	return eventKeyPrefix + strconv.FormatUint(seq%uint64(s.capacity), 10)
}

func (s *Store) put(key string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Put(key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Thresholds returns the active thresholds.
func (s *Store) Thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// SetMaxOperationDuration persists a new operation timeout.
func (s *Store) SetMaxOperationDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, KeyMaxOperationTime)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(KeyMaxOperationTime, d); err != nil {
		return err
	}
	s.thresholds.MaxOperationDuration = d
	return nil
}

// SetMaxCurrent persists a new overcurrent limit in amperes.
func (s *Store) SetMaxCurrent(amps float64) error {
	if amps <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, KeyMaxCurrent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(KeyMaxCurrent, amps); err != nil {
		return err
	}
	s.thresholds.MaxCurrent = amps
	return nil
}

// SetMaxTemperature persists a new shutdown temperature in °C.
func (s *Store) SetMaxTemperature(celsius float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if celsius <= s.thresholds.WarningTemperature {
		return fmt.Errorf("%w: %s must exceed the warning temperature %.1f",
			ErrInvalidValue, KeyMaxTemperature, s.thresholds.WarningTemperature)
	}
	if err := s.put(KeyMaxTemperature, celsius); err != nil {
		return err
	}
	s.thresholds.MaxTemperature = celsius
	return nil
}

// SetThreshold parses value and writes the named threshold. Accepted names
// are maxOperationTime (alias maxOperationDuration), maxCurrent and
// maxTemperature. Durations accept Go syntax ("45s") or bare milliseconds.
func (s *Store) SetThreshold(name, value string) error {
	switch name {
	case KeyMaxOperationTime, "maxOperationDuration":
		d, err := time.ParseDuration(value)
		if err != nil {
			ms, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
			}
			d = time.Duration(ms) * time.Millisecond
		}
		return s.SetMaxOperationDuration(d)
	case KeyMaxCurrent:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
		}
		return s.SetMaxCurrent(f)
	case KeyMaxTemperature:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
		}
		return s.SetMaxTemperature(f)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownThreshold, name)
	}
}

// Ledger returns the failure ledger.
func (s *Store) Ledger() Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// InSafeMode reports whether the lockout is active.
func (s *Store) InSafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.SafeMode
}

// RecordFailure increments the consecutive-failure counter and returns the
// new count.
func (s *Store) RecordFailure() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ledger.ConsecutiveFailures + 1
	if err := s.put(KeyConsecutiveFailures, n); err != nil {
		return s.ledger.ConsecutiveFailures, err
	}
	s.ledger.ConsecutiveFailures = n
	return n, nil
}

// ResetFailures zeroes the consecutive-failure counter.
func (s *Store) ResetFailures() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetFailuresLocked()
}

func (s *Store) resetFailuresLocked() error {
	if s.ledger.ConsecutiveFailures == 0 {
		return nil
	}
	if err := s.put(KeyConsecutiveFailures, 0); err != nil {
		return err
	}
	s.ledger.ConsecutiveFailures = 0
	return nil
}

// EnterSafeMode sets the sticky lockout. The flag is written before the
// reason so an interrupted write still leaves the system locked.
func (s *Store) EnterSafeMode(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(KeySafeMode, true); err != nil {
		return err
	}
	s.ledger.SafeMode = true
	if err := s.put(KeySafeModeReason, reason); err != nil {
		return err
	}
	s.ledger.SafeModeReason = reason
	return nil
}

// ExitSafeMode clears the lockout and resets the failure counter.
func (s *Store) ExitSafeMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resetFailuresLocked(); err != nil {
		return err
	}
	if err := s.put(KeySafeMode, false); err != nil {
		return err
	}
	s.ledger.SafeMode = false
	if err := s.backend.Delete(KeySafeModeReason); err != nil {
		return fmt.Errorf("clear %s: %w", KeySafeModeReason, err)
	}
	s.ledger.SafeModeReason = ""
	return nil
}

// AppendEvent adds a record to the event ring, overwriting the oldest slot
// once the ring is full.
func (s *Store) AppendEvent(kind, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := EventRecord{Seq: s.nextSeq, Kind: kind, At: at.UTC(), Message: message}
	if err := s.put(s.eventKey(rec.Seq), rec); err != nil {
		return err
	}
	s.nextSeq++
	s.events = append(s.events, rec)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return nil
}

// Events returns the recorded safety events, oldest first.
func (s *Store) Events() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventRecord(nil), s.events...)
}

// Position returns the last saved gate position, if any.
func (s *Store) Position() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.hasPos
}

// SavePosition persists the gate position.
func (s *Store) SavePosition(pos int) error {
	if pos < 0 || pos > 100 {
		return fmt.Errorf("position %d out of range", pos)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPos && s.position == pos {
		return nil
	}
	if err := s.put(KeyPosition, pos); err != nil {
		return err
	}
	s.position, s.hasPos = pos, true
	return nil
}
