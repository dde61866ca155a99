package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigation-node/internal/moisture"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSoilPercentMapsSamples(t *testing.T) {
	adc := NewFakeADC(1023, 726, 430)
	f := NewFacade(adc, NewFakeClimate(), moisture.Default())

	want := []int{0, 50, 100}
	for i, w := range want {
		if got := f.SoilPercent(); got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestSoilPercentReusesLastGoodSample(t *testing.T) {
	adc := NewFakeADC(900)
	f := NewFacade(adc, NewFakeClimate(), moisture.Default())

	first := f.SoilPercent()
	adc.ReadError = errors.New("spi timeout")
	if got := f.SoilPercent(); got != first {
		t.Errorf("after failure: got %d, want last good %d", got, first)
	}
	if f.Stats().ADCFailures != 1 {
		t.Errorf("adc failures: got %d, want 1", f.Stats().ADCFailures)
	}
}

func TestSoilPercentDeadADCReadsWet(t *testing.T) {
	adc := NewFakeADC()
	adc.ReadError = errors.New("no device")
	f := NewFacade(adc, NewFakeClimate(), moisture.Default())

	if got := f.SoilPercent(); got != 100 {
		t.Errorf("dead adc before first sample: got %d, want 100", got)
	}
}

func TestClimateAbsentBeforeFirstSuccess(t *testing.T) {
	climate := NewFakeClimate(ClimateSample{Err: errors.New("checksum")})
	f := NewFacade(NewFakeADC(700), climate, moisture.Default())

	temp, hum := f.TempHumidity()
	if temp != nil || hum != nil {
		t.Fatal("expected nil values before any read")
	}

	temp, hum = f.ReadTempHumidity(t0)
	if temp != nil || hum != nil {
		t.Errorf("expected nil values after failed read, got %v %v", temp, hum)
	}
	if f.Stats().ClimateFailures != 1 {
		t.Errorf("climate failures: got %d, want 1", f.Stats().ClimateFailures)
	}
}

func TestClimateRateLimited(t *testing.T) {
	climate := NewFakeClimate(
		ClimateSample{Temp: 21, Humidity: 40},
		ClimateSample{Temp: 22, Humidity: 41},
	)
	f := NewFacade(NewFakeADC(700), climate, moisture.Default())

	temp, hum := f.ReadTempHumidity(t0)
	if temp == nil || *temp != 21 || hum == nil || *hum != 40 {
		t.Fatalf("first read: got %v %v", temp, hum)
	}

	// Within the interval the sensor is not touched.
	f.ReadTempHumidity(t0.Add(time.Second))
	f.ReadTempHumidity(t0.Add(2000 * time.Millisecond))
	if climate.Reads != 1 {
		t.Errorf("reads within interval: got %d, want 1", climate.Reads)
	}

	temp, _ = f.ReadTempHumidity(t0.Add(2001 * time.Millisecond))
	if climate.Reads != 2 {
		t.Errorf("reads after interval: got %d, want 2", climate.Reads)
	}
	if *temp != 22 {
		t.Errorf("refreshed temp: got %v, want 22", *temp)
	}
}

func TestClimateFailureKeepsCachedValues(t *testing.T) {
	climate := NewFakeClimate(
		ClimateSample{Temp: 19.5, Humidity: 55},
		ClimateSample{Err: errors.New("timeout")},
		ClimateSample{Temp: 20, Humidity: 54},
	)
	f := NewFacade(NewFakeADC(700), climate, moisture.Default())

	f.ReadTempHumidity(t0)
	temp, hum := f.ReadTempHumidity(t0.Add(3 * time.Second))
	if temp == nil || *temp != 19.5 || *hum != 55 {
		t.Errorf("after failure: got %v %v, want cached 19.5 55", temp, hum)
	}

	// Failed attempts also wait out the interval before retrying.
	f.ReadTempHumidity(t0.Add(4 * time.Second))
	if climate.Reads != 2 {
		t.Errorf("reads: got %d, want 2", climate.Reads)
	}
	temp, _ = f.ReadTempHumidity(t0.Add(6 * time.Second))
	if *temp != 20 {
		t.Errorf("recovered temp: got %v, want 20", *temp)
	}

	st := f.Stats()
	if st.ClimateAttempts != 3 || st.ClimateFailures != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestTempHumidityReturnsCopies(t *testing.T) {
	f := NewFacade(NewFakeADC(700), NewFakeClimate(ClimateSample{Temp: 20, Humidity: 50}), moisture.Default())
	f.ReadTempHumidity(t0)

	temp, _ := f.TempHumidity()
	*temp = 99

	again, _ := f.TempHumidity()
	if *again != 20 {
		t.Errorf("cache mutated through returned pointer: got %v", *again)
	}
}

func TestTempHumidityDoesNotReadSensor(t *testing.T) {
	climate := NewFakeClimate(ClimateSample{Temp: 20, Humidity: 50})
	f := NewFacade(NewFakeADC(700), climate, moisture.Default())

	for i := 0; i < 5; i++ {
		f.TempHumidity()
	}
	if climate.Reads != 0 {
		t.Errorf("cached read touched sensor %d times", climate.Reads)
	}
}
