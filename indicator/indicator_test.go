package indicator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufPipe struct {
	bytes.Buffer
	closed bool
}

func (b *bufPipe) Close() error {
	b.closed = true
	return nil
}

func TestNeopixelPatterns(t *testing.T) {
	pipe := &bufPipe{}
	n := newNeopixel(pipe)

	n.Moving(true)
	assert.Equal(t, neoOpening, pipe.String())
	pipe.Reset()

	n.ConnectionLost()
	pipe.Reset()
	n.Idle()
	assert.Equal(t, neoConnectionLost, pipe.String(), "idle keeps showing a lost connection")
	pipe.Reset()

	n.ConnectionRestored()
	pipe.Reset()
	n.Idle()
	assert.Equal(t, neoNormalIdle, pipe.String())
	pipe.Reset()

	n.Tripped("obstacle")
	assert.Equal(t, neoTripped, pipe.String())

	require.NoError(t, n.Release())
	assert.True(t, pipe.closed)
	n.SafeMode()
	require.NoError(t, n.Release())
}

type recorder struct {
	calls []string
}

func (r *recorder) Idle()                { r.calls = append(r.calls, "idle") }
func (r *recorder) Moving(opening bool)  { r.calls = append(r.calls, "moving") }
func (r *recorder) Tripped(event string) { r.calls = append(r.calls, "tripped "+event) }
func (r *recorder) SafeMode()            { r.calls = append(r.calls, "safe") }
func (r *recorder) ConnectionLost()      { r.calls = append(r.calls, "lost") }
func (r *recorder) ConnectionRestored()  { r.calls = append(r.calls, "restored") }
func (r *recorder) Shutdown()            { r.calls = append(r.calls, "shutdown") }
func (r *recorder) Release() error       { return nil }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := NewMulti(a, b)
	m.Tripped("timeout")
	m.SafeMode()
	for _, r := range []*recorder{a, b} {
		assert.Equal(t, []string{"tripped timeout", "safe"}, r.calls)
	}
	assert.NoError(t, m.Release())
}

func TestNewWithoutConfigIsNoop(t *testing.T) {
	ind, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, ind)
}
