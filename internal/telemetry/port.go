// Package telemetry runs the control tick and serves readings to the network
// layer. Port is the single lock around sensor, controller, and relay state:
// a tick and a snapshot never interleave.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/irrigation-node/internal/gpio"
	"github.com/sweeney/irrigation-node/internal/irrigation"
	"github.com/sweeney/irrigation-node/internal/sensor"
)

// TickResult describes one control tick.
type TickResult struct {
	Time     time.Time
	Soil     int
	Temp     *float64
	Humidity *float64
	Gated    bool              // controller skipped: warm-up not over or port closed
	Command  irrigation.Command
	Event    *irrigation.Event // nil unless the pump changed state
	RelayErr error             // relay write failure, retried next tick
}

// Port owns the sensors, the controller, the warm-up gate, and the relay.
type Port struct {
	mu sync.Mutex

	sensors *sensor.Facade
	ctrl    *irrigation.Controller
	gate    *irrigation.Gate
	relay   gpio.Relay

	relayOn    bool
	relayDirty bool // last write failed, re-apply next tick
	relayFails int
	ticks      int
	closed     bool
}

// NewPort wires the control loop. The relay is assumed off.
func NewPort(sensors *sensor.Facade, ctrl *irrigation.Controller, gate *irrigation.Gate, relay gpio.Relay) *Port {
	return &Port{
		sensors: sensors,
		ctrl:    ctrl,
		gate:    gate,
		relay:   relay,
	}
}

// Tick samples the sensors and, once the warm-up gate is open, runs the
// controller and applies its command to the relay.
func (p *Port) Tick(now time.Time) TickResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		// The relay line is released; nothing may drive it.
		return TickResult{Time: now, Gated: true, Command: irrigation.RelayOff}
	}

	p.ticks++
	temp, hum := p.sensors.ReadTempHumidity(now)
	soil := p.sensors.SoilPercent()

	res := TickResult{
		Time:     now,
		Soil:     soil,
		Temp:     temp,
		Humidity: hum,
	}

	wasOpen := p.gate.Opened()
	if !p.gate.Open(now) {
		res.Gated = true
		res.Command = irrigation.RelayOff
		return res
	}
	if !wasOpen {
		log.Printf("control: warm-up of %v complete, automatic pump control enabled", p.gate.Delay())
	}

	out := p.ctrl.Tick(soil, now)
	res.Command = out.Command
	res.Event = out.Event
	res.RelayErr = p.applyLocked(bool(out.Command))
	return res
}

// applyLocked writes the relay when the level changes or the last write failed.
func (p *Port) applyLocked(on bool) error {
	if on == p.relayOn && !p.relayDirty {
		return nil
	}
	if err := p.relay.Set(on); err != nil {
		p.relayDirty = true
		p.relayFails++
		log.Printf("control: relay write failed (want %v): %v", on, err)
		return err
	}
	p.relayOn = on
	p.relayDirty = false
	return nil
}

// Snapshot returns cached climate values and a fresh soil reading.
// It never advances the controller.
func (p *Port) Snapshot() Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	temp, hum := p.sensors.TempHumidity()
	return Reading{
		Temp:     temp,
		Humidity: hum,
		Soil:     p.sensors.SoilPercent(),
	}
}

// ControllerView returns the controller state for status pages.
func (p *Port) ControllerView(now time.Time) irrigation.View {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.ctrl.View()
	v.GateOpen = p.gate.Opened()
	v.WarmupElapsed = p.gate.Elapsed(now)
	return v
}

// Health reports counters for the relay and sensors.
type Health struct {
	Ticks         int
	RelayOn       bool
	RelayFailures int
	Sensors       sensor.Stats
}

// Health returns a copy of the port counters.
func (p *Port) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Health{
		Ticks:         p.ticks,
		RelayOn:       p.relayOn,
		RelayFailures: p.relayFails,
		Sensors:       p.sensors.Stats(),
	}
}

// Close switches the relay off and releases it. Later calls do nothing.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.relayOn = false
	return p.relay.Close()
}
