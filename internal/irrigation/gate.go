package irrigation

import "time"

// DefaultWarmup is how long sensors settle after boot before the pump may be controlled.
const DefaultWarmup = 20000 * time.Millisecond

// Gate holds the controller back until the warm-up delay has passed.
// Once open it stays open.
type Gate struct {
	start time.Time
	delay time.Duration
	open  bool
}

// NewGate creates a gate that opens delay after start.
func NewGate(start time.Time, delay time.Duration) *Gate {
	return &Gate{start: start, delay: delay}
}

// Open reports whether the controller may run at now. The gate opens once more
// than the delay has passed since start. Use Opened to check without a clock.
func (g *Gate) Open(now time.Time) bool {
	if g.open {
		return true
	}
	if now.Sub(g.start) > g.delay {
		g.open = true
	}
	return g.open
}

// Opened reports whether the gate has opened, without evaluating the clock.
func (g *Gate) Opened() bool {
	return g.open
}

// Elapsed returns time since start, capped at the delay.
func (g *Gate) Elapsed(now time.Time) time.Duration {
	d := now.Sub(g.start)
	if d < 0 {
		return 0
	}
	if d > g.delay {
		return g.delay
	}
	return d
}

// Delay returns the warm-up delay.
func (g *Gate) Delay() time.Duration {
	return g.delay
}
