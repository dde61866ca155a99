package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/irrigation-node/internal/irrigation"
)

var (
	// ErrOutboxFull is returned when the outbox queue is full and the
	// message was dropped.
	ErrOutboxFull = errors.New("mqtt: outbox full")
	// ErrOutboxClosed is returned after Close.
	ErrOutboxClosed = errors.New("mqtt: outbox closed")
)

// Outbox hands messages to a Publisher on its own goroutine, so the caller
// never waits on the publisher. Messages are delivered in order.
type Outbox struct {
	pub   Publisher
	flush time.Duration

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	queue  chan outboxMsg
	done   chan struct{}
}

type outboxMsg struct {
	event  *irrigation.Event
	system *SystemEvent
}

// NewOutbox starts an outbox holding up to size messages. Close waits at
// most flush for queued messages to be handed over.
func NewOutbox(pub Publisher, size int, flush time.Duration) *Outbox {
	if size < 1 {
		size = 1
	}
	o := &Outbox{
		pub:   pub,
		flush: flush,
		queue: make(chan outboxMsg, size),
		done:  make(chan struct{}),
	}
	go o.run()
	return o
}

// Publish queues a pump event.
func (o *Outbox) Publish(event irrigation.Event) error {
	return o.enqueue(outboxMsg{event: &event})
}

// PublishSystem queues a system event.
func (o *Outbox) PublishSystem(event SystemEvent) error {
	return o.enqueue(outboxMsg{system: &event})
}

func (o *Outbox) enqueue(msg outboxMsg) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (o *Outbox) run() {
	defer close(o.done)

	for msg := range o.queue {
		if msg.event != nil {
			if err := o.pub.Publish(*msg.event); err != nil {
				log.Printf("mqtt: publish %s: %v", msg.event.Type, err)
			}
			continue
		}
		if err := o.pub.PublishSystem(*msg.system); err != nil {
			log.Printf("mqtt: publish %s: %v", msg.system.Event, err)
		}
	}
}

// Close stops accepting messages and waits for the queued ones to reach the
// publisher. It does not close the publisher.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	select {
	case <-o.done:
		return nil
	case <-time.After(o.flush):
		return fmt.Errorf("mqtt: outbox not drained after %v", o.flush)
	}
}
