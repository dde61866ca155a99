package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/irrigation-node/internal/irrigation"
)

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// slowToken completes after delay, like a broker that acknowledges slowly.
type slowToken struct {
	doneToken
	delay time.Duration
}

func (t *slowToken) WaitTimeout(d time.Duration) bool {
	if d < t.delay {
		time.Sleep(d)
		return false
	}
	time.Sleep(t.delay)
	return true
}

// fakeClient implements the parts of paho.Client the publisher uses.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	connected    bool
	connectErrs  []error // consumed per Connect call; nil entry succeeds
	connects     int
	publishErr   error
	publishDelay time.Duration
	publishes    int
	sent         []bufferedMsg
	disconnects  int
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *fakeClient) setPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	var err error
	if len(c.connectErrs) > 0 {
		err = c.connectErrs[0]
		if len(c.connectErrs) > 1 {
			c.connectErrs = c.connectErrs[1:]
		}
	}
	c.connected = err == nil
	return &doneToken{err: err}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes++
	if c.publishErr != nil {
		return &doneToken{err: c.publishErr}
	}
	c.sent = append(c.sent, bufferedMsg{topic: topic, payload: payload.([]byte), qos: qos, retained: retained})
	if c.publishDelay > 0 {
		return &slowToken{delay: c.publishDelay}
	}
	return &doneToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

func (c *fakeClient) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishes
}

func (c *fakeClient) messages() []bufferedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bufferedMsg(nil), c.sent...)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testOptions() Options {
	opts := DefaultOptions("tcp://localhost:1883")
	opts.RetryInitial = time.Millisecond
	opts.RetryMax = 5 * time.Millisecond
	opts.RetryElapsed = time.Second
	opts.ReplayInterval = time.Millisecond
	opts.BufferSize = 10
	opts.BreakerFailures = 2
	opts.BreakerOpen = time.Hour
	return opts
}

func newTestPublisher(t *testing.T, client *fakeClient, opts Options) *RealPublisher {
	t.Helper()
	p := newRealPublisher(client, opts)
	t.Cleanup(func() { p.Close() })
	return p
}

func pumpOn() irrigation.Event {
	return irrigation.Event{
		Timestamp: time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC),
		Type:      irrigation.EventPumpOn,
		Reason:    irrigation.ReasonDry,
		Moisture:  40,
	}
}

func TestRealPublisherSendsWhenConnected(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(t, client, testOptions())

	if err := p.Publish(pumpOn()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}

	waitFor(t, "two messages", func() bool { return len(client.messages()) == 2 })
	sent := client.messages()
	if got := sent[0]; got.topic != Topic || got.qos != 0 || got.retained {
		t.Errorf("event message: got topic=%s qos=%d retained=%v", got.topic, got.qos, got.retained)
	}
	if got := sent[1]; got.topic != TopicSystem || got.qos != 1 || !got.retained {
		t.Errorf("system message: got topic=%s qos=%d retained=%v", got.topic, got.qos, got.retained)
	}
	waitFor(t, "empty queue", func() bool { return p.Buffered() == 0 })
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, client, testOptions())

	err := p.Publish(pumpOn())
	if !errors.Is(err, ErrBuffered) {
		t.Fatalf("expected ErrBuffered, got %v", err)
	}
	p.PublishSystem(SystemEvent{Event: "HEARTBEAT"})

	if p.Buffered() != 2 {
		t.Fatalf("Buffered: got %d, want 2", p.Buffered())
	}
	if client.attempts() != 0 {
		t.Errorf("expected no publish attempts, got %d", client.attempts())
	}

	client.setConnected(true)
	p.onConnect(client)

	waitFor(t, "replay", func() bool { return p.Buffered() == 0 })
	sent := client.messages()
	if len(sent) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(sent))
	}
	if sent[0].topic != Topic || sent[1].topic != TopicSystem {
		t.Errorf("replay order: got %s, %s", sent[0].topic, sent[1].topic)
	}
}

func TestRealPublisherReconnectNotice(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(t, client, testOptions())

	p.onConnect(client)
	time.Sleep(10 * time.Millisecond)
	if n := len(client.messages()); n != 0 {
		t.Fatalf("first connect should not publish, got %d messages", n)
	}

	client.setConnected(false)
	p.Publish(pumpOn())
	client.setConnected(true)
	p.onConnect(client)

	waitFor(t, "two messages", func() bool { return len(client.messages()) == 2 })
	sent := client.messages()
	if sent[0].topic != TopicSystem {
		t.Errorf("expected RECONNECTED first, got topic %s", sent[0].topic)
	}
	if sent[1].topic != Topic {
		t.Errorf("expected buffered event second, got topic %s", sent[1].topic)
	}
}

func TestRealPublisherBreakerOpens(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker rejected")}
	p := newTestPublisher(t, client, testOptions())

	for i := 0; i < 3; i++ {
		p.Publish(pumpOn())
	}
	client.setConnected(true)
	p.onConnect(client)

	// Two failures trip the breaker; later retries never reach the client.
	waitFor(t, "breaker to open", func() bool { return client.attempts() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := client.attempts(); got != 2 {
		t.Errorf("client publishes: got %d, want 2", got)
	}
	if p.Buffered() != 3 {
		t.Errorf("Buffered: got %d, want 3", p.Buffered())
	}
}

func TestRealPublisherFailedSendKeepsOrder(t *testing.T) {
	client := &fakeClient{}
	opts := testOptions()
	opts.BreakerFailures = 1000
	p := newTestPublisher(t, client, opts)

	for i := 0; i < 3; i++ {
		e := pumpOn()
		e.Moisture = i
		p.Publish(e)
	}

	client.setPublishErr(errors.New("flaky"))
	client.setConnected(true)
	p.onConnect(client)
	waitFor(t, "failed attempts", func() bool { return client.attempts() >= 3 })
	if p.Buffered() != 3 {
		t.Fatalf("Buffered after failed sends: got %d, want 3", p.Buffered())
	}

	client.setPublishErr(nil)
	waitFor(t, "replay", func() bool { return len(client.messages()) == 3 })

	for i, m := range client.messages() {
		want, _ := FormatPayload(irrigation.Event{
			Timestamp: pumpOn().Timestamp,
			Type:      irrigation.EventPumpOn,
			Reason:    irrigation.ReasonDry,
			Moisture:  i,
		})
		if string(m.payload) != string(want) {
			t.Errorf("message %d: got %s, want %s", i, m.payload, want)
		}
	}
}

func TestRealPublisherPublishDoesNotWaitForReplay(t *testing.T) {
	client := &fakeClient{publishDelay: 300 * time.Millisecond}
	opts := testOptions()
	opts.BufferSize = 50
	opts.PublishTimeout = 400 * time.Millisecond
	p := newTestPublisher(t, client, opts)

	for i := 0; i < 30; i++ {
		p.PublishSystem(SystemEvent{Event: "HEARTBEAT"})
	}
	client.setConnected(true)
	p.onConnect(client)
	waitFor(t, "replay to start", func() bool { return client.attempts() > 0 })

	start := time.Now()
	if err := p.Publish(pumpOn()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("Publish took %v while a slow replay was running", d)
	}
	if got := p.Buffered(); got < 2 {
		t.Errorf("Buffered: got %d, want the event queued behind the replay", got)
	}
}

func TestRealPublisherCloseFlushes(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newRealPublisher(client, testOptions())

	p.PublishSystem(SystemEvent{Event: "SHUTDOWN", Retained: true})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sent := client.messages()
	if len(sent) != 1 || sent[0].topic != TopicSystem {
		t.Errorf("expected SHUTDOWN sent before disconnect, got %d messages", len(sent))
	}
	if err := p.Publish(pumpOn()); err == nil {
		t.Error("expected error publishing after Close")
	}
}

func TestRealPublisherConnectRetries(t *testing.T) {
	fail := errors.New("connection refused")
	client := &fakeClient{connectErrs: []error{fail, fail, nil}}
	p := newTestPublisher(t, client, testOptions())

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if client.connects != 3 {
		t.Errorf("connect attempts: got %d, want 3", client.connects)
	}
	if !p.IsConnected() {
		t.Error("expected IsConnected=true")
	}
}

func TestRealPublisherConnectGivesUp(t *testing.T) {
	client := &fakeClient{connectErrs: []error{errors.New("connection refused")}}
	opts := testOptions()
	opts.RetryElapsed = 20 * time.Millisecond
	p := newTestPublisher(t, client, opts)

	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("expected error after retry budget")
	}
	if client.connects < 2 {
		t.Errorf("expected retries, got %d attempts", client.connects)
	}
}

func TestRealPublisherConnectCancelled(t *testing.T) {
	client := &fakeClient{connectErrs: []error{errors.New("connection refused")}}
	opts := testOptions()
	opts.RetryElapsed = 0
	p := newTestPublisher(t, client, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := p.Connect(ctx); err == nil {
		t.Fatal("expected error when context is done")
	}
}

func TestRealPublisherConnectionCallbacks(t *testing.T) {
	var mu sync.Mutex
	var changes []bool
	opts := testOptions()
	opts.OnConnectionChange = func(c bool) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}
	client := &fakeClient{connected: true}
	p := newTestPublisher(t, client, opts)

	p.onConnect(client)
	p.onConnectionLost(client, errors.New("EOF"))

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("changes: got %v, want [true false]", changes)
	}
}

func TestRealPublisherClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newRealPublisher(client, testOptions())

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Close()
	if client.disconnects != 1 {
		t.Errorf("disconnects: got %d, want 1", client.disconnects)
	}
}
