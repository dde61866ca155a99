package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/irrigation-node/internal/irrigation"
)

// FakePublisher records published events for test assertions. It is safe
// for concurrent use; read the exported slices only once publishing has
// stopped, or use the accessor methods.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all pump events that were published.
	Events []irrigation.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Block, if set, makes Publish and PublishSystem wait until it is closed,
	// like a broker that stopped answering.
	Block chan struct{}

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) wait() {
	f.mu.Lock()
	block := f.Block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
}

// Publish records the pump event.
func (f *FakePublisher) Publish(event irrigation.Event) error {
	f.wait()

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.wait()

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// PumpEvents returns a copy of the pump events, optionally filtered by type.
func (f *FakePublisher) PumpEvents(types ...irrigation.EventType) []irrigation.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []irrigation.Event
	for _, e := range f.Events {
		if len(types) == 0 || containsType(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// Stops returns how many PUMP_OFF events carried reason.
func (f *FakePublisher) Stops(reason irrigation.Reason) int {
	n := 0
	for _, e := range f.PumpEvents(irrigation.EventPumpOff) {
		if e.Reason == reason {
			n++
		}
	}
	return n
}

// WaitForEvents waits until at least n pump events were recorded.
func (f *FakePublisher) WaitForEvents(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(f.PumpEvents()) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func containsType(types []irrigation.EventType, t irrigation.EventType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
