package tcp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/sched"
	"github.com/netstackd/netstackd/internal/stack"
)

const (
	pcbTableSize      = 16
	defaultBufferSize = 4096 // the reference implementation uses a very small buffer deliberately to exercise flow control; ours is configurable via Config
)

// Config tunes a Stack away from its defaults.
type Config struct {
	// BufferSize sets each PCB's fixed receive buffer capacity. A small
	// value (e.g. 16) is useful for exercising flow control in tests,
	// matching the reference implementation's own choice.
	BufferSize int

	// Clock overrides time for tests; nil uses the real clock.
	Clock clockwork.Clock
}

// Stack is the TCP engine: a fixed PCB table layered over an
// internal/ipstack.Stack for routing and datagram transmission, and
// internal/stack.Stack for timer registration and shutdown events.
type Stack struct {
	log  *slog.Logger
	ip   *ipstack.Stack
	core *stack.Stack

	clock clockwork.Clock

	mu      sync.Mutex
	pcbs    [pcbTableSize]*pcb
	metrics pcbMetrics
}

// New registers protocol 6 against ip, subscribes to core's shutdown
// events, and arms the three retransmission-related timers on core.
func New(log *slog.Logger, ip *ipstack.Stack, core *stack.Stack, cfg Config) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	bufCap := cfg.BufferSize
	if bufCap <= 0 {
		bufCap = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Stack{log: log, ip: ip, core: core, clock: clock, metrics: newPCBMetrics()}
	for i := range s.pcbs {
		s.pcbs[i] = newPCB(bufCap)
	}

	if err := ip.RegisterProtocol(protocolTCP, s.input); err != nil {
		return nil, err
	}
	if core != nil {
		core.Subscribe(func(any) { s.interruptAll() })
		s.registerTimers()
	}
	return s, nil
}

func (s *Stack) now() time.Time { return s.clock.Now() }

// pcbAlloc scans for a FREE slot, initializes it to CLOSED, and returns it
// with its table index (tcp_pcb_alloc).
func (s *Stack) pcbAlloc() (*pcb, int) {
	for i, p := range s.pcbs {
		if p.state == StateFree {
			p.state = StateClosed
			p.ctx = sched.New()
			s.metrics.opened.Inc()
			return p, i
		}
	}
	return nil, -1
}

// pcbGet resolves a user-facing handle to its PCB (tcp_pcb_get).
func (s *Stack) pcbGet(id int) *pcb {
	if id < 0 || id >= len(s.pcbs) {
		return nil
	}
	p := s.pcbs[id]
	if p.state == StateFree {
		return nil
	}
	return p
}

func (s *Stack) pcbID(p *pcb) int {
	for i, candidate := range s.pcbs {
		if candidate == p {
			return i
		}
	}
	return -1
}

// pcbSelect finds the PCB matching (local, foreign): an exact match wins
// over a LISTEN with a wildcard foreign endpoint (tcp_pcb_select).
func (s *Stack) pcbSelect(local, foreign Endpoint) *pcb {
	var listening *pcb
	for _, p := range s.pcbs {
		if p.state == StateFree {
			continue
		}
		localMatches := (p.local.isWildcardAddr() || p.local.Addr.Equal(local.Addr)) && p.local.Port == local.Port
		if !localMatches {
			continue
		}
		if p.foreign.Addr.Equal(foreign.Addr) && p.foreign.Port == foreign.Port {
			return p
		}
		if p.state == StateListen && p.foreign.isWildcardAddr() && p.foreign.Port == 0 {
			listening = p
		}
	}
	return listening
}

// releasePCB frees p's slot, waking any parker that must finish the
// release itself if one remains (tcp_pcb_release).
func (s *Stack) releasePCB(p *pcb) {
	if err := p.ctx.Destroy(); err != nil {
		p.ctx.Wakeup()
		return
	}
	s.log.Debug("tcp: released", "id", s.pcbID(p), "local", p.local, "foreign", p.foreign)
	bufCap := p.bufCap
	p.reset()
	p.bufCap = bufCap
	s.metrics.released.Inc()
}

func (s *Stack) interruptAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pcbs {
		if p.state != StateFree {
			p.ctx.Interrupt()
		}
	}
}
