package stack

import (
	"time"

	"github.com/netstackd/netstackd/internal/worker"
)

// RegisterTimer wires handler to fire every interval, serviced by the
// worker's tick (§4.1, §4.3). Registration order is preserved, matching
// the original's "tick handler services all eligible timers in
// registration order".
func (s *Stack) RegisterTimer(interval time.Duration, handler func()) {
	s.worker.AddTimer(&worker.Timer{Interval: interval, Handler: handler})
}
