package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/link"
)

// drainSegments pulls every IP datagram currently queued on lo and parses
// the TCP segment it carries, without handing it back to ip.Input (so it
// never reaches the stack under test a second time).
func drainSegments(t *testing.T, lo *link.Loopback, src, dst net.IP) []header {
	t.Helper()
	var out []header
	lo.Drain(func(_ uint16, datagram []byte) {
		_, hlen, err := ipstack.ParseHeader(datagram)
		require.NoError(t, err)
		h, _, err := parseHeader(datagram[hlen:], src, dst)
		require.NoError(t, err)
		out = append(out, h)
	})
	return out
}

func TestSegmentArrives_UnmatchedPort_RepliesRST(t *testing.T) {
	s, iface, lo := newTestTCP(t, 64)

	local := Endpoint{Addr: iface.Unicast, Port: 9000}
	foreign := Endpoint{Addr: iface.Unicast, Port: 9001}
	segment := buildSegment(foreign, local, 42, 0, FlagPSH, 4096, nil)

	s.input(segment, foreign.Addr, local.Addr, iface)

	segs := drainSegments(t, lo, local.Addr, foreign.Addr)
	require.Len(t, segs, 1)
	require.True(t, segs[0].Flags.has(FlagRST))
	require.True(t, segs[0].Flags.has(FlagACK))
	require.Equal(t, uint32(42), segs[0].Ack)
}

func TestSegmentArrivesListen_UnexpectedACKGetsReset(t *testing.T) {
	s, iface, lo := newTestTCP(t, 64)

	serverLocal := Endpoint{Addr: iface.Unicast, Port: 9100}
	go func() { _, _ = s.Open(serverLocal, Endpoint{}, false) }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, p := range s.pcbs {
			if p.state == StateListen {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	foreign := Endpoint{Addr: iface.Unicast, Port: 9101}
	segment := buildSegment(foreign, serverLocal, 7, 7, FlagACK, 4096, nil)
	s.input(segment, foreign.Addr, serverLocal.Addr, iface)

	segs := drainSegments(t, lo, serverLocal.Addr, foreign.Addr)
	require.Len(t, segs, 1)
	require.True(t, segs[0].Flags.has(FlagRST))

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pcbSelect(serverLocal, Endpoint{})
	require.NotNil(t, p)
	require.Equal(t, StateListen, p.state)
}

func TestSegmentArrivesSynSent_BadACKGetsReset(t *testing.T) {
	s, iface, lo := newTestTCP(t, 64)

	clientLocal := Endpoint{Addr: iface.Unicast, Port: 9200}
	serverLocal := Endpoint{Addr: iface.Unicast, Port: 9201}
	go func() { _, _ = s.Open(clientLocal, serverLocal, true) }()

	var p *pcb
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, candidate := range s.pcbs {
			if candidate.state == StateSynSent {
				p = candidate
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	// Drain the real SYN so it doesn't show up in our RST assertion below.
	drainSegments(t, lo, clientLocal.Addr, serverLocal.Addr)

	s.mu.Lock()
	badAck := p.snd.una - 1
	s.mu.Unlock()
	segment := buildSegment(serverLocal, clientLocal, 1000, badAck, FlagACK, 4096, nil)
	s.input(segment, serverLocal.Addr, clientLocal.Addr, iface)

	segs := drainSegments(t, lo, clientLocal.Addr, serverLocal.Addr)
	require.Len(t, segs, 1)
	require.True(t, segs[0].Flags.has(FlagRST))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, StateSynSent, p.state)
}

func TestSegmentArrivesReset_EstablishedReleasesPCB(t *testing.T) {
	s, iface, lo := newTestTCP(t, 4096)
	stop := make(chan struct{})
	defer close(stop)
	go pumpLoopback(lo, s.ip, stop)

	serverLocal := Endpoint{Addr: iface.Unicast, Port: 9300}
	clientLocal := Endpoint{Addr: iface.Unicast, Port: 9301}
	clientID, serverID := establish(t, s, clientLocal, serverLocal)

	s.mu.Lock()
	server := s.pcbs[serverID]
	seq := server.rcv.nxt
	s.mu.Unlock()

	segment := buildSegment(clientLocal, serverLocal, seq, 0, FlagRST, 4096, nil)
	s.input(segment, clientLocal.Addr, serverLocal.Addr, iface)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pcbs[serverID].state == StateFree
	}, 2*time.Second, time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = clientID
}
