// Package sched implements the scheduling context used to park user
// goroutines on stack state and wake them from the worker goroutine.
package sched

import (
	"errors"
	"sync"
	"time"
)

// ErrInterrupted is returned by Sleep when the context was interrupted
// before or during the wait.
var ErrInterrupted = errors.New("sched: interrupted")

// ErrBusy is returned by Destroy when parkers remain.
var ErrBusy = errors.New("sched: context has active waiters")

// Context is a condition-variable-like primitive with a sticky interrupt
// latch. It is the only inter-task synchronization primitive a caller
// needs: Sleep atomically releases the caller's lock and blocks until
// Wakeup, Interrupt, or a deadline; Interrupt wakes every parker and each
// one observes ErrInterrupted exactly once, after which the latch clears
// itself once the last parker has consumed it.
type Context struct {
	mu          sync.Mutex
	cond        *sync.Cond
	waiters     int
	interrupted bool
}

// New returns an initialized, empty Context.
func New() *Context {
	c := &Context{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Sleep releases lock, blocks until Wakeup, Interrupt, or deadline fires,
// then re-acquires lock before returning. lock must already be held by
// the caller. If deadline is the zero Time, Sleep waits indefinitely.
//
// Sleep returns ErrInterrupted if the context was interrupted before or
// during the wait; otherwise nil, whether woken by Wakeup or by the
// deadline elapsing (mirroring sched_sleep's single pthread_cond_wait /
// pthread_cond_timedwait call — the caller is expected to re-check its
// own condition and call Sleep again if it still doesn't hold).
func (c *Context) Sleep(lock sync.Locker, deadline time.Time) error {
	c.mu.Lock()
	if c.interrupted {
		c.mu.Unlock()
		return ErrInterrupted
	}
	c.waiters++
	lock.Unlock()

	var timer *time.Timer
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer = time.AfterFunc(d, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
	}

	c.cond.Wait()

	if timer != nil {
		timer.Stop()
	}

	c.waiters--
	var err error
	if c.interrupted {
		if c.waiters == 0 {
			c.interrupted = false
		}
		err = ErrInterrupted
	}
	c.mu.Unlock()

	lock.Lock()
	return err
}

// Wakeup wakes all parkers; each re-checks its condition and either
// proceeds or re-parks.
func (c *Context) Wakeup() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Interrupt sets the interrupted latch and wakes every parker. Each
// parker observes ErrInterrupted exactly once; the latch auto-clears
// once the last parker has consumed it.
func (c *Context) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Destroy returns ErrBusy if parkers remain, signaling the release path
// to defer reclamation.
func (c *Context) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters > 0 {
		return ErrBusy
	}
	return nil
}

// Waiters reports the current number of parked goroutines, for tests
// and metrics.
func (c *Context) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters
}
