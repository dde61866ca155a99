// Package moisture converts raw soil-sensor ADC counts into a moisture percentage.
package moisture

import (
	"errors"
	"math"
)

// Default calibration for a capacitive probe on a 10-bit ADC.
// Higher raw counts mean drier soil.
const (
	DefaultDry = 1023
	DefaultWet = 430
)

// Calibration holds the raw counts measured in fully dry and fully wet soil.
type Calibration struct {
	Dry int // raw count at 0%
	Wet int // raw count at 100%
}

// Default returns the factory calibration.
func Default() Calibration {
	return Calibration{Dry: DefaultDry, Wet: DefaultWet}
}

// Validate reports a calibration that cannot be interpolated.
func (c Calibration) Validate() error {
	if c.Dry == c.Wet {
		return errors.New("moisture: dry and wet calibration points must differ")
	}
	return nil
}

// Map interpolates raw between the calibration points and clamps the result to [0,100].
func (c Calibration) Map(raw int) int {
	span := c.Wet - c.Dry
	if span == 0 {
		return 0
	}
	pct := int(math.Round(float64(raw-c.Dry) * 100 / float64(span)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
