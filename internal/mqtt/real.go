package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/sweeney/irrigation-node/internal/irrigation"
)

// ErrBuffered is returned when a message could not be sent now and was
// queued for replay after the broker comes back.
var ErrBuffered = errors.New("mqtt: message buffered")

var errPublishTimeout = errors.New("publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string

	ConnectTimeout time.Duration // per attempt
	RetryInitial   time.Duration
	RetryMax       time.Duration
	RetryElapsed   time.Duration // budget for Connect; 0 retries forever

	PublishTimeout time.Duration
	ReplayInterval time.Duration // wait before resending after a failed send
	BufferSize     int

	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerOpen     time.Duration // how long the breaker stays open

	// OnConnectionChange, if set, is called from the client goroutine on
	// connect and on connection loss.
	OnConnectionChange func(connected bool)
}

// DefaultOptions returns options for the given broker.
func DefaultOptions(broker string) Options {
	return Options{
		Broker:          broker,
		ClientID:        "irrigation-node",
		ConnectTimeout:  10 * time.Second,
		RetryInitial:    500 * time.Millisecond,
		RetryMax:        30 * time.Second,
		RetryElapsed:    time.Minute,
		PublishTimeout:  5 * time.Second,
		ReplayInterval:  5 * time.Second,
		BufferSize:      100,
		BreakerFailures: 3,
		BreakerOpen:     30 * time.Second,
	}
}

// RealPublisher publishes to an actual MQTT broker. Publish only queues the
// message; a single worker goroutine sends in order, and messages that cannot
// be delivered stay queued and are replayed on reconnect.
type RealPublisher struct {
	client  paho.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
	now     func() time.Time

	mu        sync.Mutex // guards the fields below; never held while sending
	buffer    *ringBuffer
	inflight  int  // message popped by the worker and not yet settled
	connected bool // set once the first connection succeeds
	closed    bool

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRealPublisher creates a publisher for the configured broker. It does
// not connect; call Connect or KeepConnecting.
func NewRealPublisher(opts Options) *RealPublisher {
	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetWill(TopicSystem, string(will), 1, true)

	// The handlers need the publisher and the publisher needs the client.
	var p *RealPublisher
	co.SetOnConnectHandler(func(c paho.Client) { p.onConnect(c) })
	co.SetConnectionLostHandler(func(c paho.Client, err error) { p.onConnectionLost(c, err) })

	p = newRealPublisher(paho.NewClient(co), opts)
	return p
}

func newRealPublisher(client paho.Client, opts Options) *RealPublisher {
	p := &RealPublisher{
		client: client,
		opts:   opts,
		now:    time.Now,
		buffer: newRingBuffer(opts.BufferSize),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt-publish",
			Timeout: opts.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("mqtt: breaker %s %s -> %s", name, from, to)
			},
		}),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

// Connect retries the initial connection with exponential backoff until it
// succeeds, the retry budget is spent or ctx is done. After the first
// success the client reconnects on its own.
func (p *RealPublisher) Connect(ctx context.Context) error {
	return p.connect(ctx, p.opts.RetryElapsed)
}

// KeepConnecting retries in the background without a budget until connected
// or ctx is done.
func (p *RealPublisher) KeepConnecting(ctx context.Context) {
	go func() {
		if err := p.connect(ctx, 0); err != nil {
			log.Printf("mqtt: gave up connecting: %v", err)
		}
	}()
}

func (p *RealPublisher) connect(ctx context.Context, budget time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInitial
	b.MaxInterval = p.opts.RetryMax
	b.MaxElapsedTime = budget
	b.Reset()

	attempt := 0
	op := func() error {
		attempt++
		token := p.client.Connect()
		if !token.WaitTimeout(p.opts.ConnectTimeout) {
			return fmt.Errorf("connection timeout")
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		log.Printf("mqtt: connect attempt %d to %s failed: %v (retry in %v)", attempt, p.opts.Broker, err, next.Truncate(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("connect to broker %s: %w", p.opts.Broker, err)
	}
	return nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected to %s", p.opts.Broker)
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}

	p.mu.Lock()
	if p.connected {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		p.buffer.requeue([]bufferedMsg{{topic: TopicSystem, payload: payload, qos: 1}})
	}
	p.connected = true
	p.mu.Unlock()

	p.signal()
}

func (p *RealPublisher) onConnectionLost(c paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

// Publish queues a pump event for the MQTT broker. It never waits on the
// network; ErrBuffered means the broker is currently unreachable.
func (p *RealPublisher) Publish(event irrigation.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem queues a system lifecycle event for the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("mqtt: publisher closed")
	}
	p.buffer.push(msg)
	p.mu.Unlock()

	if !p.client.IsConnected() {
		return ErrBuffered
	}
	p.signal()
	return nil
}

func (p *RealPublisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run is the send worker. It is the only goroutine that talks to the broker.
func (p *RealPublisher) run() {
	defer close(p.done)

	var retry <-chan time.Time
	for {
		select {
		case <-p.stop:
			err := p.flush(p.now().Add(p.opts.PublishTimeout))
			if n := p.Buffered(); n > 0 {
				log.Printf("mqtt: %d messages not sent before close (%v)", n, err)
			}
			return
		case <-p.wake:
		case <-retry:
		}

		retry = nil
		if err := p.flush(time.Time{}); err != nil {
			if !errors.Is(err, gobreaker.ErrOpenState) {
				log.Printf("mqtt: send failed, %d messages queued: %v", p.Buffered(), err)
			}
			retry = time.After(p.opts.ReplayInterval)
		}
	}
}

// flush sends queued messages oldest first until the queue is empty, the
// client is disconnected, a send fails, or the deadline (if set) passes. A
// failed message goes back to the front of the queue.
func (p *RealPublisher) flush(deadline time.Time) error {
	for {
		if !deadline.IsZero() && p.now().After(deadline) {
			return errPublishTimeout
		}
		if !p.client.IsConnected() {
			return nil
		}

		p.mu.Lock()
		if n := p.buffer.takeDropped(); n > 0 {
			log.Printf("mqtt: %d queued messages were dropped while the broker was unavailable", n)
		}
		msg, ok := p.buffer.pop()
		if ok {
			p.inflight = 1
		}
		p.mu.Unlock()
		if !ok {
			return nil
		}

		err := p.send(msg)

		p.mu.Lock()
		if err != nil {
			p.buffer.requeue([]bufferedMsg{msg})
		}
		p.inflight = 0
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(p.opts.PublishTimeout) {
			return nil, errPublishTimeout
		}
		return nil, token.Error()
	})
	return err
}

// Buffered returns the number of messages not yet delivered.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len() + p.inflight
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close gives the worker a bounded chance to send what is queued, then
// disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stop)
		<-p.done
		p.client.Disconnect(1000) // 1 second timeout
	})
	return nil
}
