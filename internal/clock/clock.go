// Package clock implements the Lamport clock that timestamps every event a
// node applies or observes.
package clock

import (
	"sync"

	"github.com/dreamware/iddir/internal/vlog"
)

// Clock is a logical event counter. The value never decreases.
// Thread-safe: tick and observe are each a single read-modify-write under mu.
type Clock struct {
	log   *vlog.Logger
	value int64
	mu    sync.Mutex
}

// New returns a clock that has already counted its own initialization,
// so the first value handed out is 1.
func New(logger *vlog.Logger) *Clock {
	if logger == nil {
		logger = vlog.Discard()
	}
	c := &Clock{log: logger}
	c.Tick("Lamport clock initialized")
	return c
}

// Tick records a local event and returns the new value.
func (c *Clock) Tick(reason string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value++
	c.log.Clockf("Timestamp @%d: %s", c.value, reason)
	return c.value
}

// Observe merges a timestamp carried by an incoming message:
// value = max(value, incoming+1). Returns the resulting value.
func (c *Clock) Observe(incoming int64, reason string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.value
	if incoming+1 > c.value {
		c.value = incoming + 1
	}
	c.log.Clockf("Incoming message event @%d: %s", old, reason)
	if c.value != old {
		c.log.Clockf("Timestamp advanced from %d to %d", old, c.value)
	}
	return c.value
}

// Current returns the value without advancing it.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
