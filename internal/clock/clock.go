// Package clock provides the cancellable one-second countdown used by attempts.
package clock

import (
	"sync"
	"time"
)

// Clock counts down whole seconds. Arm replaces any running countdown; after
// Cancel no further callbacks are started. onTick receives the seconds left
// after each decrement and may be nil; onExpire fires exactly once at zero.
type Clock interface {
	Arm(seconds int, onTick func(remaining int), onExpire func())
	Cancel()
	Remaining() int
	Armed() bool
}

// Countdown is the wall-clock implementation backed by time.Ticker.
type Countdown struct {
	interval time.Duration

	mu        sync.Mutex
	gen       uint64
	armed     bool
	remaining int
	stop      chan struct{}
}

// Option customises a Countdown.
type Option func(*Countdown)

// WithInterval overrides the tick length; tests use it to avoid real waits.
func WithInterval(d time.Duration) Option {
	return func(c *Countdown) { c.interval = d }
}

func NewCountdown(opts ...Option) *Countdown {
	c := &Countdown{interval: time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Countdown) Arm(seconds int, onTick func(int), onExpire func()) {
	c.mu.Lock()
	c.cancelLocked()
	if seconds <= 0 {
		c.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return
	}
	c.gen++
	c.armed = true
	c.remaining = seconds
	stop := make(chan struct{})
	c.stop = stop
	gen := c.gen
	c.mu.Unlock()

	go c.run(gen, stop, onTick, onExpire)
}

func (c *Countdown) run(gen uint64, stop <-chan struct{}, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.gen != gen || !c.armed {
			c.mu.Unlock()
			return
		}
		c.remaining--
		remaining := c.remaining
		expired := remaining <= 0
		if expired {
			c.armed = false
			c.stop = nil
		}
		c.mu.Unlock()

		if onTick != nil {
			onTick(remaining)
		}
		if expired {
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

// Cancel stops the countdown without waiting for the ticker goroutine, so it
// is safe to call from inside a callback.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Countdown) cancelLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.armed = false
	c.gen++
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}
