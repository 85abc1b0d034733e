package udp

import (
	"net"

	"github.com/netstackd/netstackd/internal/sched"
)

// Endpoint is an address/port pair (ip_endpoint).
type Endpoint struct {
	Addr net.IP
	Port uint16
}

func (e Endpoint) isWildcardAddr() bool { return e.Addr == nil || e.Addr.IsUnspecified() }

type state int

const (
	stateFree state = iota
	stateOpen
	stateClosing
)

type queueEntry struct {
	foreign Endpoint
	data    []byte
}

// pcb is one UDP protocol control block, matching struct udp_pcb: a state,
// a bound local endpoint, a receive queue, and a scheduling context parked
// callers block on.
type pcb struct {
	state state
	local Endpoint
	queue []queueEntry
	ctx   *sched.Context
}
