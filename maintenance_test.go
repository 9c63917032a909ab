package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

func newMemoryStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.NewMemory(), DefaultConfig().Safety.Thresholds, 0)
	require.NoError(t, err)
	return st
}

func TestPrintStatus(t *testing.T) {
	st := newMemoryStore(t)
	require.NoError(t, st.SavePosition(40))
	_, err := st.RecordFailure()
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent("obstacle", "Obstacle detected", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, st, false))
	text := out.String()
	assert.Contains(t, text, "Safe mode:")
	assert.Contains(t, text, "Position:")
	assert.Contains(t, text, "40%")
	assert.Contains(t, text, "obstacle: Obstacle detected")
	assert.Contains(t, text, "maxCurrent")

	out.Reset()
	require.NoError(t, printStatus(&out, st, true))
	var got storeStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 1, got.ConsecutiveFailures)
	require.NotNil(t, got.Position)
	assert.Equal(t, 40, *got.Position)
	require.NotNil(t, got.LastEvent)
	assert.Equal(t, "obstacle", got.LastEvent.Kind)
	assert.Equal(t, "30s", got.Thresholds.MaxOperationTime)
}

func TestPrintEventsLimit(t *testing.T) {
	st := newMemoryStore(t)

	var out bytes.Buffer
	require.NoError(t, printEvents(&out, st, 0, false))
	assert.Equal(t, "No safety events recorded\n", out.String())

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.AppendEvent("timeout", fmt.Sprintf("event %d", i), at.Add(time.Duration(i)*time.Minute)))
	}

	out.Reset()
	require.NoError(t, printEvents(&out, st, 2, true))
	var evs []store.EventRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &evs))
	require.Len(t, evs, 2)
	assert.Equal(t, "event 2", evs[0].Message)
	assert.Equal(t, "event 3", evs[1].Message)
}

// runCLI executes the root command against a fresh state directory.
func runCLI(t *testing.T, stateDir string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatemate.yml")
	body := fmt.Sprintf("state_dir: %s\nlog_level: \"off\"\n", stateDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	t.Cleanup(func() {
		jsonOutput = false
		eventsLimit = 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSafeModeCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, dir, "safe-mode", "enter", "gate", "jammed")
	require.NoError(t, err)

	st, err := openStore(&Config{StateDir: dir, Safety: DefaultConfig().Safety})
	require.NoError(t, err)
	l := st.Ledger()
	assert.True(t, l.SafeMode)
	assert.Equal(t, "gate jammed", l.SafeModeReason)

	out, err := runCLI(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ON (gate jammed)")

	_, err = runCLI(t, dir, "safe-mode", "exit")
	require.NoError(t, err)
	out, err = runCLI(t, dir, "safe-mode", "exit")
	require.NoError(t, err)
	assert.Contains(t, out, "Not in safe mode")

	out, err = runCLI(t, dir, "--json", "events")
	require.NoError(t, err)
	var evs []store.EventRecord
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "safe_mode", evs[0].Kind)
}

func TestThresholdsSetCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "thresholds", "set", "maxCurrent", "6.5")
	require.NoError(t, err)
	assert.Contains(t, out, "6.50 A")

	_, err = runCLI(t, dir, "thresholds", "set", "maxVoltage", "12")
	assert.ErrorIs(t, err, store.ErrUnknownThreshold)

	_, err = runCLI(t, dir, "thresholds", "set", "maxOperationTime", "0s")
	assert.Error(t, err)

	out, err = runCLI(t, dir, "--json", "thresholds")
	require.NoError(t, err)
	var v thresholdsView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 6.5, v.MaxCurrent)
}
