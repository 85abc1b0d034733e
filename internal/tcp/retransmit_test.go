package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/neterr"
)

func newTestTCPWithClock(t *testing.T, clock clockwork.Clock) (*Stack, *net.IP) {
	t.Helper()
	s, iface, _ := newTestTCP(t, 64)
	s.clock = clock
	addr := iface.Unicast
	return s, &addr
}

func TestRetransmitTick_DoublesRTOOnEachResend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, addr := newTestTCPWithClock(t, clock)

	done := make(chan error, 1)
	go func() {
		_, err := s.Open(Endpoint{Addr: *addr, Port: 5000}, Endpoint{Addr: *addr, Port: 5001}, true)
		done <- err
	}()

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

	s.mu.Lock()
	require.Len(t, p.rtQueue, 1)
	require.Equal(t, defaultRTO, p.rtQueue[0].rto)
	s.mu.Unlock()

	clock.Advance(defaultRTO + time.Millisecond)
	s.retransmitTick()

	s.mu.Lock()
	require.Equal(t, 2*defaultRTO, p.rtQueue[0].rto)
	s.mu.Unlock()

	clock.Advance(2*defaultRTO + time.Millisecond)
	s.retransmitTick()

	s.mu.Lock()
	require.Equal(t, 4*defaultRTO, p.rtQueue[0].rto)
	s.mu.Unlock()

	clock.Advance(retransmitDeadline)
	s.retransmitTick()

	select {
	case err := <-done:
		require.ErrorIs(t, err, neterr.ErrUnreach)
	case <-time.After(time.Second):
		t.Fatal("Open did not return after retransmit deadline exceeded")
	}
}

func TestUserTimeoutTick_ReleasesStalePCB(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, addr := newTestTCPWithClock(t, clock)

	done := make(chan error, 1)
	go func() {
		_, err := s.Open(Endpoint{Addr: *addr, Port: 5100}, Endpoint{Addr: *addr, Port: 5101}, true)
		done <- err
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, p := range s.pcbs {
			if p.state == StateSynSent {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	clock.Advance(userTimeoutTime + time.Second)
	s.userTimeoutTick()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Open did not return after user timeout")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pcbs {
		require.Equal(t, StateFree, p.state)
	}
}

func TestTimeWaitTick_ReapsAfterTwoMSL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, _ := newTestTCPWithClock(t, clock)

	s.mu.Lock()
	p, id := s.pcbAlloc()
	require.NotNil(t, p)
	p.state = StateTimeWait
	p.timeWait = clock.Now()
	s.mu.Unlock()

	clock.Advance(timeWaitTimeout - time.Second)
	s.timeWaitTick()
	s.mu.Lock()
	require.Equal(t, StateTimeWait, s.pcbs[id].state)
	s.mu.Unlock()

	clock.Advance(2 * time.Second)
	s.timeWaitTick()
	s.mu.Lock()
	require.Equal(t, StateFree, s.pcbs[id].state)
	s.mu.Unlock()
}
