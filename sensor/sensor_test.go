package sensor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestCalibration(t *testing.T) {
	c := DefaultCalibration()

	// 2.5 V on the ACS712 is zero current; below that is clamped
	assert.InDelta(t, 0, c.Current(3102), 0.1)
	assert.Equal(t, 0.0, c.Current(0))
	assert.InDelta(t, 4.05, c.Current(3434), 0.01)
	assert.InDelta(t, 12.12, c.Current(4095), 0.01)

	assert.InDelta(t, 36.3, c.Voltage(4095), 0.01)
	assert.InDelta(t, 165.0, c.Temperature(2047), 0.1)
}

func TestCalibrationDefaultsFillZeroFields(t *testing.T) {
	c := Calibration{TempPerVolt: 50}.withDefaults()
	assert.Equal(t, 50.0, c.TempPerVolt)
	assert.Equal(t, 3.3, c.VRef)
	assert.Equal(t, 0.066, c.Sensitivity)
}

func TestParseFrame(t *testing.T) {
	f, err := parseFrame("ADC,3200,1500,700")
	require.NoError(t, err)
	assert.Equal(t, rawFrame{current: 3200, voltage: 1500, temperature: 700}, f)

	for _, bad := range []string{"", "ADC,1,2", "XYZ,1,2,3", "ADC,1,two,3", "ADC,1,-2,3"} {
		_, err := parseFrame(bad)
		assert.Error(t, err, bad)
	}
}

func TestStaticSet(t *testing.T) {
	s := NewStatic()
	require.NoError(t, s.Set("current", "4.5"))
	require.NoError(t, s.Set("temperature", "61"))
	require.NoError(t, s.Set("obstacle", "1"))
	require.NoError(t, s.Set("open_limit", "true"))
	assert.Error(t, s.Set("humidity", "3"))
	assert.Error(t, s.Set("current", "high"))

	snap, err := s.ReadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.5, snap.Current)
	assert.Equal(t, 61.0, snap.Temperature)
	assert.True(t, snap.Obstacle)
	assert.True(t, snap.OpenLimit)
	assert.False(t, snap.CloseLimit)
	assert.False(t, snap.At.IsZero())
}

type fakeInputs struct{ d Digital }

func (f *fakeInputs) Read() (Digital, error) { return f.d, nil }
func (f *fakeInputs) Close() error           { return nil }

func TestBridgeServesLatestFrame(t *testing.T) {
	pr, pw := io.Pipe()
	inputs := &fakeInputs{d: Digital{CloseLimit: true}}
	b := newBridge(pr, inputs, Config{MaxAge: time.Minute}, testLog())
	defer b.Close()

	_, err := b.ReadSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrStale)

	_, err = io.WriteString(pw, "garbage\nADC,3102,0,0\nADC,4095,1241,620\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := b.ReadSnapshot(context.Background())
		return err == nil && snap.Temperature > 0
	}, time.Second, 5*time.Millisecond)

	snap, err := b.ReadSnapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.12, snap.Current, 0.2)
	assert.InDelta(t, 11.0, snap.Voltage, 0.1)
	assert.InDelta(t, 50.0, snap.Temperature, 0.1)
	assert.True(t, snap.CloseLimit)
	assert.False(t, snap.Obstacle)
}

func TestBridgeGoesStale(t *testing.T) {
	pr, pw := io.Pipe()
	b := newBridge(pr, noInputs{}, Config{MaxAge: 20 * time.Millisecond}, testLog())
	defer b.Close()

	_, err := io.WriteString(pw, "ADC,3102,0,0\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := b.ReadSnapshot(context.Background())
		return err == nil
	}, time.Second, time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	_, err = b.ReadSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrStale)
}

func TestNewDefaultsToStatic(t *testing.T) {
	a, err := New(Config{}, testLog())
	require.NoError(t, err)
	assert.IsType(t, &Static{}, a)

	_, err = New(Config{Type: "laser"}, testLog())
	assert.Error(t, err)
}
