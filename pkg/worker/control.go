package worker

import (
	"sync/atomic"
	"time"
)

// control is the events.Controller handed to handlers. Requests never block the
// caller; the worker picks up the latest one while it sleeps.
type control struct {
	base    time.Duration
	current atomic.Int64
	changed chan struct{}
}

func newControl(base time.Duration) *control {
	c := &control{
		base:    base,
		changed: make(chan struct{}, 1),
	}
	c.current.Store(int64(base))
	return c
}

func (c *control) Sleep() time.Duration {
	return time.Duration(c.current.Load())
}

func (c *control) SetSleep(d time.Duration) {
	if d <= 0 {
		d = c.base
	}
	if c.current.Swap(int64(d)) == int64(d) {
		return
	}
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *control) ResetSleep() {
	c.SetSleep(c.base)
}
