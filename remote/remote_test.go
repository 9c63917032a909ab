package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muhammad-Fauzan22/gatemate-iot/gate"
)

func TestDecoderDefaultKeys(t *testing.T) {
	d, err := newDecoder(nil)
	require.NoError(t, err)

	cmd, ok, err := d.feed("o")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gate.CmdOpen, cmd.Kind)

	cmd, ok, _ = d.feed("E")
	require.True(t, ok)
	assert.Equal(t, gate.CmdEmergencyStop, cmd.Kind)

	_, ok, _ = d.feed("Z")
	assert.False(t, ok)
}

func TestDecoderPartial(t *testing.T) {
	d, err := newDecoder(nil)
	require.NoError(t, err)

	for _, k := range []string{"6", "0"} {
		_, ok, err := d.feed(k)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	cmd, ok, err := d.feed("ENTER")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gate.Command{Kind: gate.CmdPartial, Percent: 60}, cmd)

	for _, k := range []string{"1", "5", "0"} {
		d.feed(k)
	}
	_, ok, err = d.feed("ENTER")
	assert.Error(t, err)
	assert.False(t, ok)

	_, ok, err = d.feed("ENTER")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDecoderRejectsBadBindings(t *testing.T) {
	_, err := newDecoder(map[string]string{"X": "teleport"})
	assert.Error(t, err)
	_, err = newDecoder(map[string]string{"X": "exit-safe-mode"})
	assert.Error(t, err)

	d, err := newDecoder(map[string]string{"f1": "stop"})
	require.NoError(t, err)
	cmd, ok, _ := d.feed("F1")
	require.True(t, ok)
	assert.Equal(t, gate.CmdStop, cmd.Kind)
}

func TestNewWithoutDevice(t *testing.T) {
	r, err := New(Config{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, r.Close())
}
