package udp

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/arp"
	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/link"
	"github.com/netstackd/netstackd/internal/neterr"
	"github.com/netstackd/netstackd/internal/stack"
	"github.com/netstackd/netstackd/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestUDP(t *testing.T) (*Stack, *ipstack.Interface, *link.Loopback) {
	resolver := arp.NewResolver(testLogger())
	t.Cleanup(resolver.Close)
	ip := ipstack.New(testLogger(), resolver)

	lo := link.NewLoopback(1)
	iface := &ipstack.Interface{
		Device:    lo,
		Unicast:   net.IPv4(127, 0, 0, 1),
		Netmask:   net.CIDRMask(8, 32),
		Broadcast: net.IPv4(127, 255, 255, 255),
	}
	ip.AddInterface(iface)

	w := worker.New(testLogger(), time.Millisecond)
	core := stack.New(testLogger(), w)

	u, err := New(testLogger(), ip, core)
	require.NoError(t, err)
	return u, iface, lo
}

func TestStack_OpenBindSendRecv_LoopbackRoundTrip(t *testing.T) {
	u, iface, lo := newTestUDP(t)

	serverID, err := u.Open()
	require.NoError(t, err)
	require.NoError(t, u.Bind(serverID, Endpoint{Addr: iface.Unicast, Port: 9000}))

	clientID, err := u.Open()
	require.NoError(t, err)

	n, err := u.SendTo(clientID, []byte("hello"), Endpoint{Addr: iface.Unicast, Port: 9000})
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// loopback: deliver the queued frame back into the stack ourselves,
	// since there is no worker driving lo's IRQ in this test.
	lo.Drain(func(etherType uint16, payload []byte) {
		u.ip.Input(payload, lo)
	})

	gotN, from, err := u.RecvFrom(serverID, make([]byte, 64))
	require.NoError(t, err)
	require.Equal(t, 5, gotN)
	require.True(t, from.Addr.Equal(iface.Unicast))
}

func TestStack_Bind_RejectsDuplicate(t *testing.T) {
	u, iface, _ := newTestUDP(t)

	a, _ := u.Open()
	b, _ := u.Open()
	require.NoError(t, u.Bind(a, Endpoint{Addr: iface.Unicast, Port: 53}))

	err := u.Bind(b, Endpoint{Addr: iface.Unicast, Port: 53})
	require.ErrorIs(t, err, neterr.ErrInUse)
}

func TestStack_RecvFrom_BlocksUntilInterrupted(t *testing.T) {
	u, _, _ := newTestUDP(t)
	id, _ := u.Open()

	done := make(chan error, 1)
	go func() {
		_, _, err := u.RecvFrom(id, make([]byte, 64))
		done <- err
	}()

	require.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.pcbs[id].ctx.Waiters() == 1
	}, time.Second, time.Millisecond)

	u.interruptAll()

	select {
	case err := <-done:
		require.ErrorIs(t, err, neterr.ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("RecvFrom did not return after interrupt")
	}
}

func TestStack_Close_WithNoParkersReleasesImmediately(t *testing.T) {
	u, _, _ := newTestUDP(t)
	id, _ := u.Open()
	require.NoError(t, u.Close(id))

	u.mu.Lock()
	st := u.pcbs[id].state
	u.mu.Unlock()
	require.Equal(t, stateFree, st)
}

func TestStack_Open_ExhaustsTable(t *testing.T) {
	u, _, _ := newTestUDP(t)
	for i := 0; i < pcbTableSize; i++ {
		_, err := u.Open()
		require.NoError(t, err)
	}
	_, err := u.Open()
	require.ErrorIs(t, err, neterr.ErrNoMem)
}
