package indicator

import "errors"

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

func NewMulti(indicators ...Indicator) *Multi {
	return &Multi{indicators: indicators}
}

func (m *Multi) each(fn func(Indicator)) {
	for _, ind := range m.indicators {
		fn(ind)
	}
}

func (m *Multi) Idle()                { m.each(func(i Indicator) { i.Idle() }) }
func (m *Multi) Moving(opening bool)  { m.each(func(i Indicator) { i.Moving(opening) }) }
func (m *Multi) Tripped(event string) { m.each(func(i Indicator) { i.Tripped(event) }) }
func (m *Multi) SafeMode()            { m.each(func(i Indicator) { i.SafeMode() }) }
func (m *Multi) ConnectionLost()      { m.each(func(i Indicator) { i.ConnectionLost() }) }
func (m *Multi) ConnectionRestored()  { m.each(func(i Indicator) { i.ConnectionRestored() }) }
func (m *Multi) Shutdown()            { m.each(func(i Indicator) { i.Shutdown() }) }

// Release releases every indicator and reports all failures.
func (m *Multi) Release() error {
	var errs []error
	for _, ind := range m.indicators {
		if err := ind.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
