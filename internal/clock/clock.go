// Package clock provides the time source used by the automation engine.
//
// The engine never calls the time package directly. It reads the current
// time and schedules one-shot and repeating callbacks through a Clock, so
// tests can substitute a Fake and drive debounce windows, cooldowns and
// interval triggers deterministically.
//
// Two implementations are provided:
//
//   - Real: backed by time.AfterFunc and time.Ticker
//   - Fake: advanced manually; callbacks run synchronously inside Advance
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
//
// Stop cancels the callback. It returns true if the call prevented a future
// firing, false if the timer had already fired (one-shot) or been stopped.
type Timer interface {
	Stop() bool
}

// Clock is the time source and scheduler used by the engine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once, after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// TickFunc calls f repeatedly, every d, until the returned Timer is stopped.
	TickFunc(d time.Duration, f func()) Timer
}

// Real is a Clock backed by the system clock.
type Real struct {
	loc *time.Location
}

// NewReal returns a system clock. When loc is non-nil, Now reports times in
// that location so wall-clock comparisons (HH:MM windows, time triggers) use
// the site's timezone rather than the host's.
func NewReal(loc *time.Location) Real {
	return Real{loc: loc}
}

// Now returns the current system time.
func (r Real) Now() time.Time {
	now := time.Now()
	if r.loc != nil {
		return now.In(r.loc)
	}
	return now
}

// AfterFunc schedules f with time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TickFunc runs f on its own goroutine every d until stopped.
// Ticks that arrive while f is still running are dropped by the ticker.
func (Real) TickFunc(d time.Duration, f func()) Timer {
	t := &realTicker{stop: make(chan struct{})}
	ticker := time.NewTicker(d)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				f()
			}
		}
	}()

	return t
}

type realTicker struct {
	once sync.Once
	stop chan struct{}
}

func (t *realTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		stopped = true
	})
	return stopped
}
