package sensor

import (
	"log"
	"time"

	"github.com/sweeney/irrigation-node/internal/moisture"
)

// ClimateInterval is the minimum spacing between climate sensor transactions.
// The DHT11 cannot be sampled faster than this.
const ClimateInterval = 2000 * time.Millisecond

// Stats counts sensor activity since startup.
type Stats struct {
	ClimateAttempts int
	ClimateFailures int
	ADCFailures     int
}

// Facade gives the control loop failure-free sensor readings.
// Not safe for concurrent use; the caller must synchronize.
type Facade struct {
	adc     ADC
	climate Climate
	cal     moisture.Calibration

	lastRaw int

	temp        *float64
	humidity    *float64
	lastAttempt time.Time
	attempted   bool

	stats Stats
}

// NewFacade creates a facade over the given sensors.
func NewFacade(adc ADC, climate Climate, cal moisture.Calibration) *Facade {
	return &Facade{
		adc:     adc,
		climate: climate,
		cal:     cal,
		// Until the ADC answers, report wet soil so a dead probe never starts the pump.
		lastRaw: cal.Wet,
	}
}

// SoilPercent samples the ADC and maps it to a moisture percentage.
// A failed sample reuses the last good one.
func (f *Facade) SoilPercent() int {
	raw, err := f.adc.ReadRaw()
	if err != nil {
		f.stats.ADCFailures++
		if f.stats.ADCFailures == 1 || f.stats.ADCFailures%100 == 0 {
			log.Printf("sensor: adc read error (%d total): %v", f.stats.ADCFailures, err)
		}
		raw = f.lastRaw
	} else {
		f.lastRaw = raw
	}
	return f.cal.Map(raw)
}

// ReadTempHumidity returns the latest climate values, refreshing them from the
// sensor when more than ClimateInterval has passed since the last attempt.
// Failures keep the previous values. Either result is nil until the first
// successful read.
func (f *Facade) ReadTempHumidity(now time.Time) (*float64, *float64) {
	if !f.attempted || now.Sub(f.lastAttempt) > ClimateInterval {
		f.attempted = true
		f.lastAttempt = now
		f.stats.ClimateAttempts++

		temp, hum, err := f.climate.Read()
		if err != nil {
			f.stats.ClimateFailures++
		} else {
			f.temp = &temp
			f.humidity = &hum
		}
	}
	return f.TempHumidity()
}

// TempHumidity returns the cached climate values without touching the sensor.
func (f *Facade) TempHumidity() (*float64, *float64) {
	return copyFloat(f.temp), copyFloat(f.humidity)
}

// Stats returns a copy of the sensor counters.
func (f *Facade) Stats() Stats {
	return f.stats
}

// Calibration returns the moisture calibration in use.
func (f *Facade) Calibration() moisture.Calibration {
	return f.cal
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
