package sensor

import "errors"

// FakeADC is a test double that returns scripted raw samples.
type FakeADC struct {
	// Samples contains scripted raw values. Each call to ReadRaw consumes
	// the next sample; the last one repeats once exhausted.
	Samples []int

	// ReadError, if set, will be returned by ReadRaw.
	ReadError error

	// Reads counts calls to ReadRaw.
	Reads int

	index int
}

// NewFakeADC creates a FakeADC with the given samples.
func NewFakeADC(samples ...int) *FakeADC {
	return &FakeADC{Samples: samples}
}

// ReadRaw returns the next scripted sample.
func (f *FakeADC) ReadRaw() (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	raw := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return raw, nil
}

// ClimateSample is a single scripted climate transaction.
type ClimateSample struct {
	Temp     float64
	Humidity float64
	Err      error
}

// FakeClimate is a test double that returns scripted climate readings.
type FakeClimate struct {
	// Samples are consumed one per Read; the last one repeats once exhausted.
	Samples []ClimateSample

	// Reads counts calls to Read.
	Reads int

	index int
}

// NewFakeClimate creates a FakeClimate with the given samples.
func NewFakeClimate(samples ...ClimateSample) *FakeClimate {
	return &FakeClimate{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeClimate) Read() (float64, float64, error) {
	f.Reads++
	if len(f.Samples) == 0 {
		return 0, 0, errors.New("no samples configured")
	}

	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	if s.Err != nil {
		return 0, 0, s.Err
	}
	return s.Temp, s.Humidity, nil
}
