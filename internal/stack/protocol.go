package stack

import (
	"sync"
)

// ProtocolHandler processes one inbound frame. dev is the device the frame
// arrived on (for multi-homed lookups / reply routing).
type ProtocolHandler func(data []byte, dev Device)

type queueEntry struct {
	dev  Device
	data []byte
}

// protocolEntry owns an unbounded FIFO of inbound frames for one
// link-level EtherType, serviced from the worker goroutine only.
type protocolEntry struct {
	etherType uint16
	handler   ProtocolHandler

	mu    sync.Mutex
	queue []queueEntry
}

func (p *protocolEntry) push(e queueEntry) {
	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.mu.Unlock()
}

func (p *protocolEntry) drain() []queueEntry {
	p.mu.Lock()
	entries := p.queue
	p.queue = nil
	p.mu.Unlock()
	return entries
}

// RegisterProtocol binds handler to etherType. Registration is write-once
// at startup (§4.3): a duplicate etherType fails. Not safe to call once
// the worker is running.
func (s *Stack) RegisterProtocol(etherType uint16, handler ProtocolHandler) error {
	s.protoMu.Lock()
	defer s.protoMu.Unlock()
	if _, ok := s.protocols[etherType]; ok {
		return ErrProtocolRegistered
	}
	s.protocols[etherType] = &protocolEntry{etherType: etherType, handler: handler}
	return nil
}

// InputHandler is what every device calls for each inbound frame (§4.1):
// it finds the protocol registered for etherType, appends (dev, copy(data))
// to that protocol's queue, and raises the soft-IRQ code so the worker
// drains it. Frames for an unregistered etherType are dropped silently.
func (s *Stack) InputHandler(etherType uint16, data []byte, dev Device) {
	s.protoMu.RLock()
	p, ok := s.protocols[etherType]
	s.protoMu.RUnlock()
	if !ok {
		s.log.Debug("stack: dropping frame, no protocol registered", "ether_type", etherType)
		s.metrics.droppedUnknownType.Inc()
		return
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	p.push(queueEntry{dev: dev, data: cp})
	s.metrics.queuedFrames.WithLabelValues(protoLabel(etherType)).Inc()

	s.worker.SoftIRQ(func() { s.serviceSoftIRQ() })
}

// serviceSoftIRQ drains every protocol's queue by invoking its registered
// handler once per queued entry, in FIFO order. Runs on the worker
// goroutine.
func (s *Stack) serviceSoftIRQ() {
	s.protoMu.RLock()
	entries := make([]*protocolEntry, 0, len(s.protocols))
	for _, p := range s.protocols {
		entries = append(entries, p)
	}
	s.protoMu.RUnlock()

	for _, p := range entries {
		for _, e := range p.drain() {
			p.handler(e.data, e.dev)
		}
	}
}

func protoLabel(etherType uint16) string {
	switch etherType {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	default:
		return "other"
	}
}
