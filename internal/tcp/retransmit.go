package tcp

import "time"

const (
	retransmitTickInterval = 100 * time.Millisecond
	userTimeoutInterval    = time.Second
	timeWaitTickInterval   = time.Second

	retransmitDeadline = 12 * time.Second
	userTimeoutTime    = 30 * time.Second
	msl                = 120 * time.Second
	timeWaitTimeout    = 2 * msl
)

// registerTimers wires the three retransmission-related timers onto core's
// worker. Each performs a linear scan over the fixed PCB table — the pool
// is at most 16 entries, so a heap-ordered scheduler (the shape
// internal/stack's docs describe for an unbounded session count) would be
// over-engineering here; see DESIGN.md.
func (s *Stack) registerTimers() {
	s.core.RegisterTimer(retransmitTickInterval, func() { s.retransmitTick() })
	s.core.RegisterTimer(userTimeoutInterval, func() { s.userTimeoutTick() })
	s.core.RegisterTimer(timeWaitTickInterval, func() { s.timeWaitTick() })
}

// retransmitTick runs tcp_retransmit_queue_emit_all over every non-FREE PCB.
func (s *Stack) retransmitTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pcbs {
		if p.state == StateFree {
			continue
		}
		s.retransmitQueueEmitAll(p)
	}
}

// retransmitQueueEmitAll walks p's retransmission queue. If an entry has
// passed retransmitDeadline it marks the PCB CLOSED and wakes its parkers
// (the PCB is not released here); otherwise it resends any entry whose RTO
// has elapsed and doubles its RTO.
func (s *Stack) retransmitQueueEmitAll(p *pcb) {
	now := s.now()
	for _, entry := range p.rtQueue {
		if now.Sub(entry.first) >= retransmitDeadline {
			p.state = StateClosed
			p.ctx.Wakeup()
			return
		}
		if now.Before(entry.last.Add(entry.rto)) {
			continue
		}
		_ = s.outputSegment(entry.seq, p.rcv.nxt, entry.flags, p.rcv.wnd, entry.data, p.local, p.foreign)
		entry.advance(now)
		s.metrics.retransmitted.Inc()
	}
}

// userTimeoutTick aborts any non-FREE, non-TIME_WAIT PCB whose connection
// has been open for userTimeoutTime without reaching a terminal state.
func (s *Stack) userTimeoutTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range s.pcbs {
		if p.state == StateFree || p.state == StateTimeWait {
			continue
		}
		if now.Sub(p.startTime) >= userTimeoutTime {
			s.retransmitQueueEmitAll(p)
			p.state = StateClosed
			s.releasePCB(p)
			s.metrics.userTimeouts.Inc()
		}
	}
}

// timeWaitTick reaps any TIME_WAIT PCB that has waited 2*MSL.
func (s *Stack) timeWaitTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range s.pcbs {
		if p.state != StateTimeWait {
			continue
		}
		if now.Sub(p.timeWait) >= timeWaitTimeout {
			p.state = StateClosed
			s.releasePCB(p)
		}
	}
}
