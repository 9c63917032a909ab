package sensor

// Calibration maps raw ADC counts to engineering units with the linear
// approximations of the reference board (ACS712-30A current sensor, 10:1
// voltage divider, simplified thermistor). These are placeholders until the
// board is characterised.
type Calibration struct {
	VRef           float64 `yaml:"vref"`            // ADC reference voltage
	FullScale      float64 `yaml:"full_scale"`      // ADC max count
	CurrentZero    float64 `yaml:"current_zero"`    // sensor output at 0 A, volts
	Sensitivity    float64 `yaml:"current_v_per_a"` // sensor sensitivity, V/A
	VoltageDivider float64 `yaml:"voltage_divider"` // divider ratio
	TempPerVolt    float64 `yaml:"temp_c_per_volt"` // °C per volt
}

// DefaultCalibration matches the reference firmware constants.
func DefaultCalibration() Calibration {
	return Calibration{
		VRef:           3.3,
		FullScale:      4095,
		CurrentZero:    2.5,
		Sensitivity:    0.066,
		VoltageDivider: 11.0,
		TempPerVolt:    100,
	}
}

func (c Calibration) volts(raw int) float64 {
	return float64(raw) * c.VRef / c.FullScale
}

// Current converts a raw count to amperes, floored at zero.
func (c Calibration) Current(raw int) float64 {
	a := (c.volts(raw) - c.CurrentZero) / c.Sensitivity
	if a < 0 {
		return 0
	}
	return a
}

// Voltage converts a raw count to supply volts.
func (c Calibration) Voltage(raw int) float64 {
	return c.volts(raw) * c.VoltageDivider
}

// Temperature converts a raw count to °C.
func (c Calibration) Temperature(raw int) float64 {
	return c.volts(raw) * c.TempPerVolt
}

func (c Calibration) withDefaults() Calibration {
	d := DefaultCalibration()
	if c.VRef == 0 {
		c.VRef = d.VRef
	}
	if c.FullScale == 0 {
		c.FullScale = d.FullScale
	}
	if c.CurrentZero == 0 {
		c.CurrentZero = d.CurrentZero
	}
	if c.Sensitivity == 0 {
		c.Sensitivity = d.Sensitivity
	}
	if c.VoltageDivider == 0 {
		c.VoltageDivider = d.VoltageDivider
	}
	if c.TempPerVolt == 0 {
		c.TempPerVolt = d.TempPerVolt
	}
	return c
}
