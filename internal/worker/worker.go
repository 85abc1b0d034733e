// Package worker implements the single cooperative worker that serializes
// device input, software interrupts, the periodic timer tick and event
// broadcasts onto one goroutine, exactly the way the rest of the stack
// expects: PCBs, the ARP cache and protocol queues are only ever mutated
// from inside this loop.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IRQHandler is invoked when a device raises its IRQ. dev is the opaque
// device-specific value passed to RequestIRQ.
type IRQHandler func(irq uint, dev any)

// EventHandler is invoked on every broadcast Event. arg is the opaque value
// passed to Event.
type EventHandler func(arg any)

type irqEntry struct {
	irq     uint
	handler IRQHandler
	dev     any
}

// Timer is a periodically-serviced callback. Handler is called from the
// worker goroutine whenever at least Interval has elapsed since the last
// call (or since registration, for the first call).
type Timer struct {
	Interval time.Duration
	Handler  func()

	last time.Time
}

// Worker is the single cooperative dispatcher described in §4.1: it awaits
// five kinds of stimulus (device IRQ, soft IRQ, timer tick, event, shutdown)
// and dispatches each to its registered handlers, one at a time. Stimuli of
// different kinds that are pending together are taken in no fixed order.
//
// Registration (RequestIRQ, AddTimer) is expected to happen before Run and
// is not safe to call concurrently with it; RaiseIRQ, SoftIRQ and Event are
// safe to call from any goroutine at any time.
type Worker struct {
	log *slog.Logger

	mu   sync.Mutex
	irqs []irqEntry

	softIRQ chan func()
	irqCh   chan irqSignal
	eventCh chan eventSignal

	timers   []*Timer
	tickerMu sync.Mutex

	tick time.Duration
}

type irqSignal struct {
	irq uint
	dev any
}

type eventSignal struct {
	handlers []EventHandler
	arg      any
}

// New returns a Worker with the given timer-tick granularity (the original
// design ticks every 1ms; tests may use a coarser tick to run faster).
func New(log *slog.Logger, tick time.Duration) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &Worker{
		log:     log,
		softIRQ: make(chan func(), 256),
		irqCh:   make(chan irqSignal, 256),
		eventCh: make(chan eventSignal, 64),
		tick:    tick,
	}
}

// RequestIRQ registers handler to be invoked whenever irq is raised.
// Multiple handlers may share an irq number; all are invoked, in
// registration order.
func (w *Worker) RequestIRQ(irq uint, handler IRQHandler, dev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.irqs = append(w.irqs, irqEntry{irq: irq, handler: handler, dev: dev})
}

// AddTimer registers t to be serviced on every tick where at least
// t.Interval has elapsed since it last fired.
func (w *Worker) AddTimer(t *Timer) {
	w.tickerMu.Lock()
	defer w.tickerMu.Unlock()
	t.last = time.Now()
	w.timers = append(w.timers, t)
}

// RaiseIRQ asynchronously delivers a device interrupt. Safe to call from
// any goroutine; never blocks the worker.
func (w *Worker) RaiseIRQ(irq uint, dev any) {
	select {
	case w.irqCh <- irqSignal{irq: irq, dev: dev}:
	default:
		w.log.Warn("worker: irq channel full, dropping", "irq", irq)
	}
}

// SoftIRQ schedules fn to run on the worker goroutine, used by protocol
// input handlers to drain their queues
// (§4.1's "soft-IRQ code").
func (w *Worker) SoftIRQ(fn func()) {
	select {
	case w.softIRQ <- fn:
	default:
		w.log.Warn("worker: soft-irq channel full, dropping entry")
	}
}

// Event broadcasts arg to every handler in handlers (internal/stack passes
// its subscriber list), invoked from the worker goroutine. Used to
// interrupt every parked scheduling context in one shot.
func (w *Worker) Event(handlers []EventHandler, arg any) {
	select {
	case w.eventCh <- eventSignal{handlers: handlers, arg: arg}:
	default:
		w.log.Warn("worker: event channel full, dropping broadcast")
	}
}

// Run executes the dispatch loop until ctx is canceled (the shutdown
// stimulus). It never returns an error: cancellation is the only exit.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Debug("worker: started", "tick", w.tick)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("worker: stopped", "reason", ctx.Err())
			return nil

		case sig := <-w.irqCh:
			w.dispatchIRQ(sig)

		case fn := <-w.softIRQ:
			fn()

		case sig := <-w.eventCh:
			for _, h := range sig.handlers {
				h(sig.arg)
			}

		case now := <-ticker.C:
			w.dispatchTick(now)
		}
	}
}

func (w *Worker) dispatchIRQ(sig irqSignal) {
	w.mu.Lock()
	entries := make([]irqEntry, 0, 1)
	for _, e := range w.irqs {
		if e.irq == sig.irq {
			entries = append(entries, e)
		}
	}
	w.mu.Unlock()

	for _, e := range entries {
		e.handler(sig.irq, e.dev)
	}
}

func (w *Worker) dispatchTick(now time.Time) {
	w.tickerMu.Lock()
	due := make([]*Timer, 0, len(w.timers))
	for _, t := range w.timers {
		if t.last.IsZero() || now.Sub(t.last) >= t.Interval {
			t.last = now
			due = append(due, t)
		}
	}
	w.tickerMu.Unlock()

	for _, t := range due {
		t.Handler()
	}
}
