package tcp

import (
	"math/rand/v2"
	"net"

	"github.com/netstackd/netstackd/internal/ipstack"
)

// randomISS picks an initial send sequence number (tcp_pcb_alloc's
// pcb->iss = random()).
func randomISS() uint32 { return rand.Uint32() }

// segmentInfo is the decoded per-segment sequencing view handed to
// segmentArrives (struct tcp_segment_info). SYN and FIN each consume one
// sequence number, already folded into Len here.
type segmentInfo struct {
	seq uint32
	ack uint32
	len uint32
	wnd uint16
	up  uint16
}

// input is registered as the IP protocol-6 handler. It validates the
// segment, builds a segmentInfo, and hands off to segmentArrives under
// the stack lock (tcp_input).
func (s *Stack) input(data []byte, src, dst net.IP, iface *ipstack.Interface) {
	if src.Equal(net.IPv4bcast) || dst.Equal(net.IPv4bcast) {
		s.log.Debug("tcp: dropping segment with broadcast endpoint")
		s.metrics.inputDropped.Inc()
		return
	}
	h, payload, err := parseHeader(data, src, dst)
	if err != nil {
		s.log.Debug("tcp: dropping malformed segment", "error", err)
		s.metrics.inputDropped.Inc()
		return
	}

	local := Endpoint{Addr: dst, Port: h.DstPort}
	foreign := Endpoint{Addr: src, Port: h.SrcPort}

	seg := segmentInfo{seq: h.Seq, ack: h.Ack, len: uint32(len(payload)), wnd: h.Window, up: h.Urgent}
	if h.Flags.has(FlagSYN) {
		seg.len++
	}
	if h.Flags.has(FlagFIN) {
		seg.len++
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentArrives(seg, h.Flags, payload, local, foreign)
}

// segmentArrives is the RFC 793 §3.9 SEGMENT ARRIVES procedure
// (tcp_segment_arrives). Called with s.mu held.
func (s *Stack) segmentArrives(seg segmentInfo, flags Flags, data []byte, local, foreign Endpoint) {
	p := s.pcbSelect(local, foreign)
	if p == nil || p.state == StateClosed {
		if flags.has(FlagRST) {
			return
		}
		if !flags.has(FlagACK) {
			_ = s.outputSegment(0, seg.seq+seg.len, FlagRST|FlagACK, 0, nil, local, foreign)
		} else {
			_ = s.outputSegment(seg.ack, 0, FlagRST, 0, nil, local, foreign)
		}
		return
	}

	switch p.state {
	case StateListen:
		s.segmentArrivesListen(p, seg, flags, local, foreign)
		return
	case StateSynSent:
		s.segmentArrivesSynSent(p, seg, flags)
		return
	}

	acceptable := segmentAcceptable(p, seg)
	if !acceptable {
		if !flags.has(FlagRST) {
			_ = s.output(p, FlagACK, nil)
		}
		return
	}

	if flags.has(FlagRST) {
		s.segmentArrivesReset(p)
		return
	}

	if flags.has(FlagSYN) {
		s.retransmitQueueEmitAll(p)
		p.state = StateClosed
		s.releasePCB(p)
		return
	}

	if !flags.has(FlagACK) {
		return
	}
	if !s.segmentArrivesAck(p, seg) {
		return
	}

	if p.state == StateEstablished && len(data) > 0 {
		free := int(p.rcv.wnd)
		offset := p.bufCap - free
		n := copy(p.buf[offset:p.bufCap], data)
		p.rcv.nxt = seg.seq + seg.len
		p.rcv.wnd -= uint16(n)
		_ = s.output(p, FlagACK, nil)
		p.ctx.Wakeup()
	}

	if flags.has(FlagFIN) {
		s.segmentArrivesFin(p, seg)
	}
}

func (s *Stack) segmentArrivesListen(p *pcb, seg segmentInfo, flags Flags, local, foreign Endpoint) {
	if flags.has(FlagRST) {
		return
	}
	if flags.has(FlagACK) {
		_ = s.outputSegment(seg.ack, 0, FlagRST, 0, nil, local, foreign)
		return
	}
	if flags.has(FlagSYN) {
		p.local = local
		p.foreign = foreign
		p.rcv.wnd = uint16(p.bufCap)
		p.rcv.nxt = seg.seq + 1
		p.irs = seg.seq
		p.iss = randomISS()
		_ = s.output(p, FlagSYN|FlagACK, nil)
		p.snd.nxt = p.iss + 1
		p.snd.una = p.iss
		p.state = StateSynReceived
		return
	}
}

func (s *Stack) segmentArrivesSynSent(p *pcb, seg segmentInfo, flags Flags) {
	acceptable := false
	if flags.has(FlagACK) {
		if seg.ack <= p.iss || seg.ack > p.snd.nxt {
			_ = s.outputSegment(seg.ack, 0, FlagRST, 0, nil, p.local, p.foreign)
			return
		}
		if p.snd.una <= seg.ack && seg.ack <= p.snd.nxt {
			acceptable = true
		}
	}
	if flags.has(FlagRST) {
		if acceptable {
			p.state = StateClosed
			p.ctx.Wakeup()
			s.releasePCB(p)
		}
		return
	}
	if flags.has(FlagSYN) {
		p.rcv.nxt = seg.seq + 1
		p.irs = seg.seq
		if acceptable {
			p.snd.una = seg.ack
			s.retransmitQueueCleanup(p)
		}
		if p.snd.una > p.iss {
			p.state = StateEstablished
			_ = s.output(p, FlagACK, nil)
			p.snd.wnd = seg.wnd
			p.snd.wl1 = seg.seq
			p.snd.wl2 = seg.ack
			p.ctx.Wakeup()
			return
		}
		p.state = StateSynReceived
		_ = s.output(p, FlagSYN|FlagACK, nil)
		return
	}
}

// segmentAcceptable implements the sequence-number check shared by every
// post-handshake state (tcp_segment_arrives's "1st check sequence number").
func segmentAcceptable(p *pcb, seg segmentInfo) bool {
	switch p.state {
	case StateSynReceived, StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait, StateLastAck:
	default:
		return false
	}
	if seg.len == 0 {
		if p.rcv.wnd == 0 {
			return seg.seq == p.rcv.nxt
		}
		return p.rcv.nxt <= seg.seq && seg.seq < p.rcv.nxt+uint32(p.rcv.wnd)
	}
	if p.rcv.wnd == 0 {
		return false
	}
	inWindow := func(n uint32) bool { return p.rcv.nxt <= n && n < p.rcv.nxt+uint32(p.rcv.wnd) }
	return inWindow(seg.seq) || inWindow(seg.seq+seg.len-1)
}

func (s *Stack) segmentArrivesReset(p *pcb) {
	switch p.state {
	case StateSynReceived:
		if p.active {
			p.state = StateClosed
			s.releasePCB(p)
		} else {
			p.state = StateListen
			p.local = Endpoint{}
			p.foreign = Endpoint{}
		}
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		s.retransmitQueueEmitAll(p)
		p.state = StateClosed
		p.ctx.Wakeup()
		s.releasePCB(p)
	case StateClosing, StateLastAck, StateTimeWait:
		p.state = StateClosed
		s.releasePCB(p)
	}
}

// segmentArrivesAck runs the 5th-check ACK handling for every
// post-handshake state. Returns false if the caller should stop
// processing this segment (bad ACK, ACK bit absent, or LAST_ACK handled).
func (s *Stack) segmentArrivesAck(p *pcb, seg segmentInfo) bool {
	switch p.state {
	case StateSynReceived:
		if !(p.snd.una <= seg.ack && seg.ack <= p.snd.nxt) {
			_ = s.outputSegment(seg.ack, 0, FlagRST, 0, nil, p.local, p.foreign)
			return false
		}
		p.state = StateEstablished
		p.ctx.Wakeup()
		fallthrough
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		if p.snd.una < seg.ack && seg.ack <= p.snd.nxt {
			p.snd.una = seg.ack
			s.retransmitQueueCleanup(p)
			if p.snd.wl1 < seg.seq || (p.snd.wl1 == seg.seq && p.snd.wl2 <= seg.ack) {
				p.snd.wnd = seg.wnd
				p.snd.wl1 = seg.seq
				p.snd.wl2 = seg.ack
				p.ctx.Wakeup() // a parked Send may now have room to push more
			}
		} else if seg.ack > p.snd.nxt {
			_ = s.output(p, FlagACK, nil)
			return false
		}
		switch p.state {
		case StateFinWait1:
			if seg.ack == p.snd.nxt {
				p.state = StateFinWait2
			}
		}
		return true
	case StateLastAck:
		if seg.ack == p.snd.nxt {
			p.state = StateClosed
			s.releasePCB(p)
		}
		return false
	}
	return true
}

func (s *Stack) segmentArrivesFin(p *pcb, seg segmentInfo) {
	switch p.state {
	case StateClosed, StateListen, StateSynSent:
		return
	}
	p.rcv.nxt = seg.seq + 1
	_ = s.output(p, FlagACK, nil)
	switch p.state {
	case StateSynReceived, StateEstablished:
		p.state = StateCloseWait
		p.ctx.Wakeup()
	case StateFinWait1:
		if seg.ack == p.snd.nxt {
			p.state = StateTimeWait
			p.timeWait = s.now()
		} else {
			p.state = StateClosing
		}
	case StateFinWait2:
		p.state = StateTimeWait
		p.timeWait = s.now()
	}
}
