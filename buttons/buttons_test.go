package buttons

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinesSkipUnconfigured(t *testing.T) {
	var pressed []string
	cfg := Config{OpenPin: 5, StopPin: 6, EmergencyPin: 13}
	lines := cfg.lines(Handlers{
		OnOpen:  func() { pressed = append(pressed, "open") },
		OnClose: func() { pressed = append(pressed, "close") },
		OnStop:  func() { pressed = append(pressed, "stop") },
	})

	assert.Len(t, lines, 2, "close has no pin and emergency has no handler")
	lines[5]()
	lines[6]()
	assert.Equal(t, []string{"open", "stop"}, pressed)
}

func TestNewDisabled(t *testing.T) {
	b, err := New(Config{}, Handlers{})
	assert.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, b.Release())
}
