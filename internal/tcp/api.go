package tcp

import (
	"fmt"
	"time"

	"github.com/netstackd/netstackd/internal/neterr"
)

const tcpHdrOverhead = 20 + hdrLen // ipv4 header minimum + tcp header, no options

var errConnectionClosing = fmt.Errorf("tcp: connection closing")

func errUnknownState(s State) error { return fmt.Errorf("tcp: unexpected state %s", s) }

// Open allocates a PCB and drives it to ESTABLISHED before returning,
// exactly tcp_open_rfc793: active opens send a SYN and wait; passive opens
// install the endpoints, enter LISTEN, and wait for a peer.
func (s *Stack) Open(local, foreign Endpoint, active bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, id := s.pcbAlloc()
	if p == nil {
		return 0, neterr.ErrNoMem
	}
	p.active = active
	p.startTime = s.now()

	if active {
		p.local = local
		p.foreign = foreign
		p.rcv.wnd = uint16(p.bufCap)
		p.iss = randomISS()
		if err := s.output(p, FlagSYN, nil); err != nil {
			p.state = StateClosed
			s.releasePCB(p)
			return 0, neterr.WithKind(neterr.Unreach, err)
		}
		p.snd.una = p.iss
		p.snd.nxt = p.iss + 1
		p.state = StateSynSent
	} else {
		p.local = local
		if foreign.Port != 0 || !foreign.isWildcardAddr() {
			p.foreign = foreign
		}
		p.state = StateListen
	}

	for {
		waitState := p.state
		for p.state == waitState {
			if err := p.ctx.Sleep(&s.mu, time.Time{}); err != nil {
				p.state = StateClosed
				s.releasePCB(p)
				return 0, neterr.WithKind(neterr.Interrupted, err)
			}
		}
		if p.state == StateEstablished {
			return id, nil
		}
		if p.state == StateSynReceived {
			continue
		}
		p.state = StateClosed
		s.releasePCB(p)
		return 0, neterr.ErrUnreach
	}
}

// Close sends a FIN and advances the PCB toward its closing state
// (tcp_close): ESTABLISHED -> FIN_WAIT1, CLOSE_WAIT -> LAST_ACK.
func (s *Stack) Close(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pcbGet(id)
	if p == nil {
		return neterr.ErrBadArg
	}
	switch p.state {
	case StateEstablished:
		_ = s.output(p, FlagACK|FlagFIN, nil)
		p.state = StateFinWait1
		p.snd.nxt++
	case StateCloseWait:
		_ = s.output(p, FlagACK|FlagFIN, nil)
		p.state = StateLastAck
		p.snd.nxt++
	default:
		return neterr.WithKind(neterr.BadArg, errUnknownState(p.state))
	}
	p.ctx.Wakeup()
	return nil
}

// Send writes data to id's connection, parking until send window opens up
// (tcp_send). It returns the number of bytes sent before an interrupt, if
// any were sent; otherwise it returns the interrupt error.
func (s *Stack) Send(id int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pcbGet(id)
	if p == nil {
		return 0, neterr.ErrBadArg
	}

	mss := s.mss(p)
	sent := 0
	for sent < len(data) {
		switch p.state {
		case StateEstablished, StateCloseWait:
		case StateLastAck:
			return sent, neterr.WithKind(neterr.Closed, errConnectionClosing)
		default:
			return sent, neterr.WithKind(neterr.BadArg, errUnknownState(p.state))
		}

		cap := int(p.snd.wnd) - int(p.snd.nxt-p.snd.una)
		if cap <= 0 {
			if err := p.ctx.Sleep(&s.mu, time.Time{}); err != nil {
				if sent == 0 {
					return 0, neterr.WithKind(neterr.Interrupted, err)
				}
				return sent, nil
			}
			continue
		}

		slen := min(mss, len(data)-sent, cap)
		chunk := data[sent : sent+slen]
		if err := s.output(p, FlagACK|FlagPSH, chunk); err != nil {
			p.state = StateClosed
			s.releasePCB(p)
			return sent, neterr.WithKind(neterr.Unreach, err)
		}
		p.snd.nxt += uint32(slen)
		sent += slen
	}
	return sent, nil
}

// Receive copies buffered data into buf, parking until data arrives
// (tcp_receive). A CLOSE_WAIT connection with an empty buffer returns
// (0, nil): the peer is gone and there is nothing left to read.
func (s *Stack) Receive(id int, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pcbGet(id)
	if p == nil {
		return 0, neterr.ErrBadArg
	}

	for {
		remain := p.bufCap - int(p.rcv.wnd)
		switch p.state {
		case StateEstablished:
			if remain == 0 {
				if err := p.ctx.Sleep(&s.mu, time.Time{}); err != nil {
					return 0, neterr.WithKind(neterr.Interrupted, err)
				}
				continue
			}
		case StateCloseWait:
			if remain == 0 {
				return 0, nil
			}
		default:
			return 0, neterr.WithKind(neterr.BadArg, errUnknownState(p.state))
		}

		n := min(len(buf), remain)
		copy(buf, p.buf[:n])
		copy(p.buf, p.buf[n:remain])
		p.rcv.wnd += uint16(n)
		return n, nil
	}
}

// mss derives the maximum segment size from the MTU of the interface
// that would carry id's outbound traffic (tcp_send's iface->dev->mtu
// lookup).
func (s *Stack) mss(p *pcb) int {
	iface := s.ip.Routes.GetIface(p.foreign.Addr)
	if iface == nil {
		return hdrLen
	}
	mtu := iface.Device.MTU() - tcpHdrOverhead
	if mtu < 1 {
		return 1
	}
	return mtu
}
