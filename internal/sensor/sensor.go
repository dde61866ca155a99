// Package sensor provides access to the soil-moisture ADC and the air
// temperature/humidity sensor with hardware abstraction.
// Real implementations read Linux IIO sysfs or a serial sensor bridge.
// Fake implementations allow testing without hardware.
package sensor

// ADC samples the soil-moisture probe.
type ADC interface {
	// ReadRaw returns one raw sample in [0,1023].
	ReadRaw() (int, error)
}

// Climate reads the air temperature/humidity sensor.
type Climate interface {
	// Read performs one sensor transaction. It may fail intermittently.
	// Returns (celsius, relative humidity percent, error).
	Read() (float64, float64, error)
}

// MaxRaw is the largest value a 10-bit ADC returns.
const MaxRaw = 1023
