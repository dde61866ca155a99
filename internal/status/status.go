// Package status provides a thread-safe status tracker for the irrigation-node daemon.
// It is read by HTTP handlers and by MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/irrigation-node/internal/irrigation"
	"github.com/sweeney/irrigation-node/internal/telemetry"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	WarmupMs      int64
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
	RelayPin      int
	SensorBackend string
	CalDry        int
	CalWet        int
}

// Source is the live control loop state. *telemetry.Port satisfies it.
type Source interface {
	Snapshot() telemetry.Reading
	ControllerView(now time.Time) irrigation.View
	Health() telemetry.Health
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reading       telemetry.Reading
	Controller    irrigation.View
	Health        telemetry.Health
	LastEvent     *irrigation.Event
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// RunTime returns how long the pump has been running, or zero when idle.
func (s Snapshot) RunTime() time.Duration {
	if s.Controller.State != irrigation.StateRunning || s.Controller.RunStart.IsZero() {
		return 0
	}
	return s.Now.Sub(s.Controller.RunStart)
}

// Tracker holds daemon metadata behind an RWMutex and reads live state
// from the control loop on demand.
type Tracker struct {
	source Source
	now    func() time.Time

	mu            sync.RWMutex
	startTime     time.Time
	mqttConnected bool
	network       *NetworkInfo
	lastEvent     *irrigation.Event
	config        Config
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(source Source, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		source:    source,
		now:       time.Now,
		startTime: startTime,
		config:    cfg,
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.network = info
	t.mu.Unlock()
}

// RecordEvent remembers the most recent pump transition.
func (t *Tracker) RecordEvent(e irrigation.Event) {
	t.mu.Lock()
	t.lastEvent = &e
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	now := t.now()

	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.startTime,
		Now:           now,
		MQTTConnected: t.mqttConnected,
		Network:       t.network,
		Config:        t.config,
	}
	if t.lastEvent != nil {
		e := *t.lastEvent
		s.LastEvent = &e
	}
	t.mu.RUnlock()

	s.Reading = t.source.Snapshot()
	s.Controller = t.source.ControllerView(now)
	s.Health = t.source.Health()
	return s
}

// Heartbeat decides when periodic status events are due.
// Not safe for concurrent use; the caller must synchronize.
type Heartbeat struct {
	interval time.Duration
	last     time.Time
}

// NewHeartbeat creates a heartbeat that first fires interval after start.
// A non-positive interval disables it.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, last: start}
}

// Due reports whether a heartbeat should be sent at now and, if so, restarts the interval.
func (h *Heartbeat) Due(now time.Time) bool {
	if h.interval <= 0 {
		return false
	}
	if now.Sub(h.last) < h.interval {
		return false
	}
	h.last = now
	return true
}
