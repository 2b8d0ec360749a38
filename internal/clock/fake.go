package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Timers fire only from Advance, in deadline order (ties in scheduling
// order), synchronously on the goroutine that called Advance. While a
// callback runs, Now reports that timer's deadline. No lock is held during
// callbacks, so a callback may schedule or stop other timers.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock  *Fake
	when   time.Time
	period time.Duration
	seq    uint64
	f      func()
}

// NewFake returns a fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once d after the current fake time.
// A non-positive d fires on the next Advance, including Advance(0).
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	return c.schedule(d, 0, f)
}

// TickFunc schedules f every d. d must be positive.
func (c *Fake) TickFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("clock: non-positive interval for TickFunc")
	}
	return c.schedule(d, d, f)
}

func (c *Fake) schedule(d, period time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	t := &fakeTimer{
		clock:  c,
		when:   c.now.Add(d),
		period: period,
		seq:    c.seq,
		f:      f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due
// on the way.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	c.runUntil(target)
}

// Set moves the clock to t, firing timers that fall due. Moving backwards
// only changes Now.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	if !t.After(c.now) {
		c.now = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.runUntil(t)
}

// Pending returns the number of timers that have not fired or been stopped.
// Repeating timers count until stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Fake) runUntil(target time.Time) {
	for {
		c.mu.Lock()
		idx := c.nextDue(target)
		if idx < 0 {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}

		t := c.timers[idx]
		if t.when.After(c.now) {
			c.now = t.when
		}
		if t.period > 0 {
			c.seq++
			t.when = t.when.Add(t.period)
			t.seq = c.seq
		} else {
			c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		}
		f := t.f
		c.mu.Unlock()

		f()
	}
}

// nextDue returns the index of the earliest timer due at or before target,
// or -1. Caller holds c.mu.
func (c *Fake) nextDue(target time.Time) int {
	best := -1
	for i, t := range c.timers {
		if t.when.After(target) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := c.timers[best]
		if t.when.Before(b.when) || (t.when.Equal(b.when) && t.seq < b.seq) {
			best = i
		}
	}
	return best
}

// Stop removes the timer from the fake's schedule.
func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}
