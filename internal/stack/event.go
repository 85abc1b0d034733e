package stack

import "github.com/netstackd/netstackd/internal/worker"

// Subscribe registers handler to be called with arg on every RaiseEvent
// (§4.1's event code, "broadcast interrupt all parked tasks"). Not safe to
// call once the worker is running.
func (s *Stack) Subscribe(handler func(arg any)) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.eventHandlers = append(s.eventHandlers, worker.EventHandler(handler))
}

// RaiseEvent broadcasts arg to every subscriber, from the worker goroutine.
// internal/tcp and internal/udp subscribe so that a broadcast interrupts
// every parked scheduling context (the cancellation path).
func (s *Stack) RaiseEvent(arg any) {
	s.eventMu.RLock()
	handlers := make([]worker.EventHandler, len(s.eventHandlers))
	copy(handlers, s.eventHandlers)
	s.eventMu.RUnlock()

	s.worker.Event(handlers, arg)
}
