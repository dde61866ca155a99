package gpio

// FakeRelay is a test double that records relay writes.
type FakeRelay struct {
	// On is the last level successfully written.
	On bool

	// Writes contains every level passed to Set, including failed ones.
	Writes []bool

	// SetError, if set, will be returned by Set and the level is not applied.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeRelay creates a FakeRelay that starts off.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the write.
func (f *FakeRelay) Set(on bool) error {
	f.Writes = append(f.Writes, on)
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	return nil
}

// Close turns the relay off and marks it closed.
func (f *FakeRelay) Close() error {
	f.On = false
	f.Closed = true
	return nil
}

