// Package silencetest provides a manually advanced clock for countdown tests.
package silencetest

import (
	"sync"
	"time"

	"github.com/amanullahtanweer/realtime-transcriber/internal/silence"
)

// Clock is a fake silence.Clock. Timers fire synchronously inside Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

type timer struct {
	clock *Clock
	when  time.Time
	f     func()
	done  bool
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) silence.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &timer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order. Timers
// scheduled by a firing callback are honoured within the same call.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	for {
		next := -1
		for i, t := range c.timers {
			if t.when.After(target) {
				continue
			}
			if next == -1 || t.when.Before(c.timers[next].when) {
				next = i
			}
		}
		if next == -1 {
			break
		}

		t := c.timers[next]
		c.timers = append(c.timers[:next], c.timers[next+1:]...)
		t.done = true
		if t.when.After(c.now) {
			c.now = t.when
		}

		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}

	c.now = target
	c.mu.Unlock()
}

// Pending returns the number of scheduled timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (t *timer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
