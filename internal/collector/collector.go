// Package collector gathers per-stream latency observations from many
// concurrent drivers without ever backpressuring them. It keeps at most a
// bounded number of samples in memory, dropping the oldest once a stage's
// high-water mark is hit, and hands the whole batch off in one end-of-stage
// drain.
package collector

import (
	"sync"
	"time"
)

// Collector accumulates latency samples for one stage. Submit is safe for
// concurrent use by many stream drivers; Drain is called exactly once, after
// the stage's drivers have all stopped submitting. Any Submit after Drain is
// rejected rather than silently reopening the collector.
type Collector struct {
	mu      sync.Mutex
	samples []time.Duration
	limit   int
	dropped int
	drained bool
}

// New returns a Collector that retains at most limit samples, dropping the
// oldest retained sample (and counting the drop) when a new submission
// would exceed it. limit <= 0 means unbounded.
func New(limit int) *Collector {
	return &Collector{limit: limit}
}

// Submit records one observation. It never blocks the caller on I/O or on
// other submitters beyond a brief mutex hold. It is a no-op once Drain has
// been called.
func (c *Collector) Submit(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drained {
		return
	}

	if c.limit > 0 && len(c.samples) >= c.limit {
		c.samples = c.samples[1:]
		c.dropped++
	}
	c.samples = append(c.samples, d)
}

// Drain returns every retained sample and the count of samples dropped due
// to the high-water mark, and marks the collector drained. It is meant to be
// called exactly once per stage, after submission has stopped; every
// subsequent Submit is rejected and a repeated Drain returns nothing further.
func (c *Collector) Drain() ([]time.Duration, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.samples
	c.samples = nil
	dropped := c.dropped
	c.dropped = 0
	c.drained = true
	return out, dropped
}

// Len reports the number of samples currently retained.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}
