package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigation-node/internal/irrigation"
)

func TestOutboxDeliversInOrder(t *testing.T) {
	f := NewFakePublisher()
	o := NewOutbox(f, 8, time.Second)

	o.PublishSystem(SystemEvent{Event: "STARTUP"})
	for i := 0; i < 3; i++ {
		o.Publish(irrigation.Event{Type: irrigation.EventPumpOn, Moisture: i})
	}
	o.PublishSystem(SystemEvent{Event: "SHUTDOWN"})

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, e := range f.Events {
		if e.Moisture != i {
			t.Errorf("event %d: moisture %d", i, e.Moisture)
		}
	}
	if len(f.Events) != 3 {
		t.Errorf("events: got %d, want 3", len(f.Events))
	}
	if len(f.SystemEvents) != 2 || f.SystemEvents[1].Event != "SHUTDOWN" {
		t.Errorf("system events: got %+v", f.SystemEvents)
	}
	if f.Closed {
		t.Error("outbox must not close the publisher")
	}
}

func TestOutboxDoesNotWaitForPublisher(t *testing.T) {
	f := NewFakePublisher()
	f.Block = make(chan struct{})
	o := NewOutbox(f, 2, 10*time.Millisecond)

	start := time.Now()
	// One message is held by the blocked publisher, two fill the queue.
	var full int
	for i := 0; i < 5; i++ {
		if err := o.Publish(irrigation.Event{Type: irrigation.EventPumpOn}); errors.Is(err, ErrOutboxFull) {
			full++
		}
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("Publish waited %v on a blocked publisher", d)
	}
	if full < 2 {
		t.Errorf("expected dropped messages once the queue filled, got %d", full)
	}

	if err := o.Close(); err == nil {
		t.Error("expected Close to report an undrained outbox")
	}
	close(f.Block)
}

func TestOutboxClosed(t *testing.T) {
	o := NewOutbox(NewFakePublisher(), 1, time.Second)
	o.Close()

	if err := o.Publish(irrigation.Event{}); !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Publish after Close: got %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOutboxLogsPublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	o := NewOutbox(f, 4, time.Second)

	if err := o.Publish(irrigation.Event{Type: irrigation.EventPumpOn}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	o.PublishSystem(SystemEvent{Event: "HEARTBEAT"})
	o.Close()

	if len(f.SystemEvents) != 1 {
		t.Errorf("system event after failed publish: got %d, want 1", len(f.SystemEvents))
	}
}
