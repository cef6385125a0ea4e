package engine

import "ShardSearch/internal/budget"

// DefaultCheckInterval is how many rows a task collects between budget
// checks inside a segment.
const DefaultCheckInterval = 128

// Checkpoint polls a budget probe at task boundaries. Row-level checks are
// amortized over checkInterval calls; segment-level checks always poll.
type Checkpoint struct {
	probe budget.Probe

	checkCounter  int
	checkInterval int

	// Checks counts probe polls.
	Checks int

	// Exceeded is set once the probe has reported the budget as used up.
	Exceeded bool
}

// NewCheckpoint creates a Checkpoint over probe. A nil probe never trips.
func NewCheckpoint(probe budget.Probe, interval int) *Checkpoint {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Checkpoint{
		probe:         probe,
		checkInterval: interval,
	}
}

// Boundary polls the probe unconditionally. Used between segments.
func (c *Checkpoint) Boundary() bool {
	c.checkCounter = 0
	return c.poll()
}

// Step counts one unit of work and polls every checkInterval steps.
func (c *Checkpoint) Step() bool {
	c.checkCounter++
	if c.checkCounter%c.checkInterval == 0 {
		return c.poll()
	}
	return c.Exceeded
}

func (c *Checkpoint) poll() bool {
	if c.Exceeded {
		return true
	}
	if c.probe == nil {
		return false
	}
	c.Checks++
	if c.probe.Exceeded() {
		c.Exceeded = true
	}
	return c.Exceeded
}
