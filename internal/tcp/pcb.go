package tcp

import (
	"math"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netstackd/netstackd/internal/sched"
)

// Endpoint is an address/port pair (ip_endpoint). Either field may be the
// wildcard value while a PCB is LISTENing.
type Endpoint struct {
	Addr net.IP
	Port uint16
}

func (e Endpoint) isWildcardAddr() bool { return e.Addr == nil || e.Addr.IsUnspecified() }

// State is one of the RFC 793 connection states, plus FREE for an unused
// PCB table slot.
type State int

const (
	StateFree State = iota
	StateClosed
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT1"
	case StateFinWait2:
		return "FIN_WAIT2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// sendVars mirrors struct tcp_pcb's anonymous `snd` member.
type sendVars struct {
	nxt uint32
	una uint32
	wnd uint16
	up  uint16
	wl1 uint32
	wl2 uint32
}

// recvVars mirrors struct tcp_pcb's anonymous `rcv` member.
type recvVars struct {
	nxt uint32
	wnd uint16
	up  uint16
}

// retransmitEntry is one queued outgoing segment awaiting acknowledgement
// (the "rtx entry"). backoff doubles rto on every resend with no ceiling:
// RTO growth is unbounded, matching a plain rto *= 2 loop.
type retransmitEntry struct {
	first   time.Time
	last    time.Time
	backoff *backoff.ExponentialBackOff
	rto     time.Duration // interval until the next resend is due
	seq     uint32
	flags   Flags
	data    []byte
}

func newRetransmitEntry(now time.Time, seq uint32, flags Flags, data []byte) *retransmitEntry {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRTO
	b.Multiplier = 2
	b.RandomizationFactor = 0     // deterministic doubling
	b.MaxInterval = math.MaxInt64 // unbounded growth, no ceiling
	b.MaxElapsedTime = 0
	b.Reset()
	return &retransmitEntry{
		first:   now,
		last:    now,
		backoff: b,
		rto:     b.NextBackOff(),
		seq:     seq,
		flags:   flags,
		data:    append([]byte(nil), data...),
	}
}

// advance is called after a resend: it records the send time and doubles
// rto for the next round.
func (e *retransmitEntry) advance(now time.Time) {
	e.last = now
	e.rto = e.backoff.NextBackOff()
}

// pcb is one TCP protocol control block.
type pcb struct {
	active  bool
	state   State
	local   Endpoint
	foreign Endpoint

	snd sendVars
	iss uint32
	rcv recvVars
	irs uint32

	startTime time.Time
	timeWait  time.Time

	buf      []byte // fixed-capacity receive buffer
	bufCap   int
	ctx      *sched.Context
	rtQueue  []*retransmitEntry
}

func newPCB(bufCap int) *pcb {
	return &pcb{bufCap: bufCap, buf: make([]byte, bufCap)}
}

func (p *pcb) reset() {
	buf := p.buf
	*p = pcb{bufCap: p.bufCap, buf: buf}
}
