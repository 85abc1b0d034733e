// Package udp implements the UDP transport: open/bind/sendto/recvfrom/close
// over a fixed-size PCB table, grounded on original_source/udp.c. Blocking
// recvfrom parks on an internal/sched.Context the same way internal/tcp's
// receive does, so a stack shutdown event interrupts every outstanding
// recvfrom exactly once (udp_init's net_event_subscribe(event_handler)).
package udp

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/neterr"
	"github.com/netstackd/netstackd/internal/sched"
	"github.com/netstackd/netstackd/internal/stack"
)

const (
	pcbTableSize = 16
	srcPortMin   = 49152
	srcPortMax   = 65535
)

// Stack is the UDP transport: a fixed PCB table layered over an
// internal/ipstack.Stack for routing and datagram transmission.
type Stack struct {
	log   *slog.Logger
	ip    *ipstack.Stack
	mu    sync.Mutex
	pcbs  [pcbTableSize]*pcb
	metrics pcbMetrics
}

// New registers protocol 17 against ip and subscribes to core's shutdown
// events so every parked recvfrom is interrupted when the stack stops.
func New(log *slog.Logger, ip *ipstack.Stack, core *stack.Stack) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{log: log, ip: ip, metrics: newPCBMetrics()}
	for i := range s.pcbs {
		s.pcbs[i] = &pcb{}
	}
	if err := ip.RegisterProtocol(protocolUDP, s.input); err != nil {
		return nil, err
	}
	if core != nil {
		core.Subscribe(func(any) { s.interruptAll() })
	}
	return s, nil
}

// Open allocates a PCB and returns its id (udp_open).
func (s *Stack) Open() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pcbs {
		if p.state == stateFree {
			p.state = stateOpen
			p.local = Endpoint{}
			p.queue = nil
			p.ctx = sched.New()
			s.metrics.opened.Inc()
			return id, nil
		}
	}
	return 0, neterr.ErrNoMem
}

// Close releases id's PCB (udp_close).
func (s *Stack) Close(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.getOpenLocked(id)
	if err != nil {
		return err
	}
	p.state = stateClosing
	if err := p.ctx.Destroy(); err != nil {
		// parkers remain: wake them, they'll observe CLOSING and finish
		// releasing the PCB themselves (mirrors udp_pcb_release).
		p.ctx.Wakeup()
		return nil
	}
	s.releaseLocked(p)
	return nil
}

// Bind assigns local to id (udp_bind); fails if already in use.
func (s *Stack) Bind(id int, local Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.getOpenLocked(id)
	if err != nil {
		return err
	}
	if s.selectLocked(local.Addr, local.Port) != nil {
		return neterr.ErrInUse
	}
	p.local = local
	return nil
}

// SendTo transmits data to foreign (udp_sendto): selects a source address
// via the route table when unbound, and a dynamic source port when the
// PCB hasn't bound one.
func (s *Stack) SendTo(id int, data []byte, foreign Endpoint) (int, error) {
	s.mu.Lock()
	p, err := s.getOpenLocked(id)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	localAddr := p.local.Addr
	if localAddr == nil || localAddr.IsUnspecified() {
		iface := s.ip.Routes.GetIface(foreign.Addr)
		if iface == nil {
			s.mu.Unlock()
			return 0, neterr.ErrNoRoute
		}
		localAddr = iface.Unicast
	}

	localPort := p.local.Port
	if localPort == 0 {
		port, ok := s.allocPortLocked(localAddr)
		if !ok {
			s.mu.Unlock()
			return 0, neterr.ErrInUse
		}
		p.local.Port = port
		localPort = port
	}
	s.mu.Unlock()

	segment := buildSegment(localPort, foreign.Port, localAddr, foreign.Addr, data)
	if _, err := s.ip.Output(protocolUDP, segment, localAddr, foreign.Addr); err != nil {
		return 0, neterr.WithKind(neterr.Unreach, err)
	}
	return len(data), nil
}

// RecvFrom blocks until a datagram is queued, id is closed, or the caller
// is interrupted (udp_recvfrom). buf truncates an oversized datagram.
func (s *Stack) RecvFrom(id int, buf []byte) (int, Endpoint, error) {
	s.mu.Lock()
	if id < 0 || id >= len(s.pcbs) {
		s.mu.Unlock()
		return 0, Endpoint{}, neterr.ErrBadArg
	}
	p := s.pcbs[id]

	for {
		if p.state != stateOpen {
			s.mu.Unlock()
			return 0, Endpoint{}, neterr.ErrClosed
		}
		if len(p.queue) > 0 {
			entry := p.queue[0]
			p.queue = p.queue[1:]
			s.mu.Unlock()
			n := copy(buf, entry.data)
			return n, entry.foreign, nil
		}

		if err := p.ctx.Sleep(&s.mu, time.Time{}); err != nil {
			s.mu.Unlock()
			return 0, Endpoint{}, neterr.ErrInterrupted
		}

		if p.state == stateClosing {
			s.releaseLocked(p)
			s.mu.Unlock()
			return 0, Endpoint{}, neterr.ErrClosed
		}
	}
}

func (s *Stack) input(data []byte, src, dst net.IP, iface *ipstack.Interface) {
	srcPort, dstPort, payload, ok := parseSegment(data, src, dst)
	if !ok {
		s.metrics.inputDropped.Inc()
		s.log.Debug("udp: dropping malformed segment")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.selectLocked(dst, dstPort)
	if p == nil {
		s.metrics.inputDropped.Inc()
		return // port not in use
	}

	cp := append([]byte(nil), payload...)
	p.queue = append(p.queue, queueEntry{foreign: Endpoint{Addr: src, Port: srcPort}, data: cp})
	s.metrics.queuePushed.Inc()
	p.ctx.Wakeup()
}

func (s *Stack) interruptAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pcbs {
		if p.state == stateOpen {
			p.ctx.Interrupt()
		}
	}
}

func (s *Stack) getOpenLocked(id int) (*pcb, error) {
	if id < 0 || id >= len(s.pcbs) {
		return nil, neterr.ErrBadArg
	}
	p := s.pcbs[id]
	if p.state != stateOpen {
		return nil, neterr.ErrClosed
	}
	return p, nil
}

func (s *Stack) selectLocked(addr net.IP, port uint16) *pcb {
	for _, p := range s.pcbs {
		if p.state != stateOpen {
			continue
		}
		wildcard := p.local.isWildcardAddr() || addr == nil || addr.IsUnspecified()
		if (wildcard || p.local.Addr.Equal(addr)) && p.local.Port == port {
			return p
		}
	}
	return nil
}

func (s *Stack) allocPortLocked(addr net.IP) (uint16, bool) {
	for port := srcPortMin; port <= srcPortMax; port++ {
		if s.selectLocked(addr, uint16(port)) == nil {
			return uint16(port), true
		}
	}
	return 0, false
}

func (s *Stack) releaseLocked(p *pcb) {
	p.state = stateFree
	p.local = Endpoint{}
	p.queue = nil
}
