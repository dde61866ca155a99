package irrigation

import "time"

// Controller decides when the pump runs.
//
// While IDLE it counts consecutive dry samples and starts the pump once
// RequiredDrySamples in a row are below LowThreshold-DryMargin. While RUNNING
// it stops the pump when the soil is wet and MinRun has passed, or
// unconditionally once MaxRun has passed.
type Controller struct {
	params       Params
	state        PumpState
	drySamples   int
	runStart     time.Time
	lastMoisture int
	hasMoisture  bool
	counts       Counts
}

// NewController creates an idle controller with the relay off.
func NewController(params Params) *Controller {
	return &Controller{
		params: params,
		state:  StateIdle,
	}
}

// Tick feeds one moisture sample taken at now and returns the relay command.
// Percent is expected to be clamped to [0,100] already.
func (c *Controller) Tick(percent int, now time.Time) Result {
	c.lastMoisture = percent
	c.hasMoisture = true

	switch c.state {
	case StateIdle:
		return c.tickIdle(percent, now)
	default:
		return c.tickRunning(percent, now)
	}
}

func (c *Controller) tickIdle(percent int, now time.Time) Result {
	if percent < c.params.startBelow() {
		c.drySamples++
	} else {
		// Only contiguous dry samples count.
		c.drySamples = 0
	}

	if c.drySamples < c.params.RequiredDrySamples {
		return Result{Command: RelayOff}
	}

	c.state = StateRunning
	c.runStart = now
	c.drySamples = 0
	c.counts.Starts++

	return Result{
		Command: RelayOn,
		Event: &Event{
			Timestamp: now,
			Type:      EventPumpOn,
			Reason:    ReasonDry,
			Moisture:  percent,
		},
	}
}

func (c *Controller) tickRunning(percent int, now time.Time) Result {
	elapsed := c.elapsed(now)

	var reason Reason
	switch {
	case elapsed > c.params.MaxRun:
		reason = ReasonTimeout
	case percent > c.params.stopAbove() && elapsed > c.params.MinRun:
		reason = ReasonWet
	default:
		return Result{Command: RelayOn}
	}

	c.state = StateIdle
	c.runStart = time.Time{}
	if reason == ReasonTimeout {
		c.counts.TimeoutStops++
	} else {
		c.counts.WetStops++
	}

	return Result{
		Command: RelayOff,
		Event: &Event{
			Timestamp: now,
			Type:      EventPumpOff,
			Reason:    reason,
			Moisture:  percent,
			RunTime:   elapsed,
		},
	}
}

// elapsed returns the run time so far. A clock that went backwards counts as zero.
func (c *Controller) elapsed(now time.Time) time.Duration {
	d := now.Sub(c.runStart)
	if d < 0 {
		return 0
	}
	return d
}

// State returns the current pump state.
func (c *Controller) State() PumpState {
	return c.state
}

// Command returns the relay level matching the current state.
func (c *Controller) Command() Command {
	return Command(c.state == StateRunning)
}

// DrySamples returns the current debounce counter.
func (c *Controller) DrySamples() int {
	return c.drySamples
}

// RunStart returns when the current run began. Zero while idle.
func (c *Controller) RunStart() time.Time {
	return c.runStart
}

// Counts returns a copy of the transition counters.
func (c *Controller) Counts() Counts {
	return c.counts
}

// View returns a copy of the controller state. Gate fields are left for the caller.
func (c *Controller) View() View {
	return View{
		State:        c.state,
		DrySamples:   c.drySamples,
		RunStart:     c.runStart,
		LastMoisture: c.lastMoisture,
		HasMoisture:  c.hasMoisture,
		Counts:       c.counts,
	}
}
