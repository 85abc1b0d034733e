package arp

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/link"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMessage_MarshalUnmarshalRoundTrip(t *testing.T) {
	m := Message{
		Op:  opRequest,
		SHA: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SPA: net.IPv4(192, 168, 1, 1),
		THA: make(net.HardwareAddr, 6),
		TPA: net.IPv4(192, 168, 1, 2),
	}

	got, err := Unmarshal(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m.Op, got.Op)
	require.Equal(t, m.SHA, got.SHA)
	require.True(t, m.SPA.Equal(got.SPA))
	require.True(t, m.TPA.Equal(got.TPA))
}

func TestUnmarshal_TooShort(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShort)
}

func TestCache_ResolveThenLookup(t *testing.T) {
	c := NewCache()
	defer c.Close()

	pa := net.IPv4(10, 0, 0, 1)
	ha := net.HardwareAddr{1, 2, 3, 4, 5, 6}

	_, _, ok := c.Lookup(pa)
	require.False(t, ok)

	c.MarkIncomplete(pa)
	_, state, ok := c.Lookup(pa)
	require.True(t, ok)
	require.Equal(t, StateIncomplete, state)

	c.Resolve(pa, ha)
	gotHA, state, ok := c.Lookup(pa)
	require.True(t, ok)
	require.Equal(t, StateResolved, state)
	require.Equal(t, ha, gotHA)
}

func TestCache_StaticNeverExpires(t *testing.T) {
	c := NewCache()
	defer c.Close()

	pa := net.IPv4(10, 0, 0, 9)
	ha := net.HardwareAddr{9, 9, 9, 9, 9, 9}
	c.Static(pa, ha)

	gotHA, state, ok := c.Lookup(pa)
	require.True(t, ok)
	require.Equal(t, StateStatic, state)
	require.Equal(t, ha, gotHA)
}

func TestResolver_Resolve_MissSendsRequestAndReturnsIncomplete(t *testing.T) {
	r := NewResolver(testLogger())
	defer r.Close()

	dummy := link.NewDummy("eth0", 1)
	iface := &Iface{Device: dummy, Unicast: net.IPv4(192, 168, 1, 1)}
	r.BindIface(iface)

	_, res := r.Resolve(iface, net.IPv4(192, 168, 1, 2))
	require.Equal(t, ResolveIncomplete, res)

	sent := dummy.Sent()
	require.Len(t, sent, 1)
	got, err := Unmarshal(sent[0].Payload)
	require.NoError(t, err)
	require.Equal(t, opRequest, got.Op)
}

func TestResolver_Resolve_ConcurrentMissesSendOneRequest(t *testing.T) {
	r := NewResolver(testLogger())
	defer r.Close()

	dummy := link.NewDummy("eth0", 1)
	iface := &Iface{Device: dummy, Unicast: net.IPv4(192, 168, 1, 1)}
	r.BindIface(iface)

	tpa := net.IPv4(192, 168, 1, 50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(iface, tpa)
		}()
	}
	wg.Wait()

	require.Len(t, dummy.Sent(), 1, "concurrent resolves of the same address must collapse into one ARP request")
}

func TestResolver_Input_MergesSenderAndRepliesToRequest(t *testing.T) {
	r := NewResolver(testLogger())
	defer r.Close()

	dummy := link.NewDummy("eth0", 1)
	local := net.IPv4(192, 168, 1, 1)
	iface := &Iface{Device: dummy, Unicast: local}
	r.BindIface(iface)

	peerHA := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	peerIP := net.IPv4(192, 168, 1, 2)
	req := Message{
		Op:  opRequest,
		SHA: peerHA,
		SPA: peerIP,
		THA: make(net.HardwareAddr, 6),
		TPA: local,
	}

	r.Input(req.Marshal(), dummy)

	ha, state, ok := r.cache.Lookup(peerIP)
	require.True(t, ok)
	require.Equal(t, StateResolved, state)
	require.Equal(t, peerHA, ha)

	sent := dummy.Sent()
	require.Len(t, sent, 1)
	reply, err := Unmarshal(sent[0].Payload)
	require.NoError(t, err)
	require.Equal(t, opReply, reply.Op)
	require.True(t, reply.TPA.Equal(peerIP))
}

func TestResolver_Input_DropsSilentlyWhenIfaceUnbound(t *testing.T) {
	r := NewResolver(testLogger())
	defer r.Close()

	dummy := link.NewDummy("eth1", 1) // never bound via BindIface

	req := Message{
		Op:  opRequest,
		SHA: net.HardwareAddr{1, 2, 3, 4, 5, 6},
		SPA: net.IPv4(10, 0, 0, 5),
		THA: make(net.HardwareAddr, 6),
		TPA: net.IPv4(10, 0, 0, 1),
	}
	r.Input(req.Marshal(), dummy)

	require.Empty(t, dummy.Sent())
}

func TestCache_Len(t *testing.T) {
	c := NewCache()
	defer c.Close()
	require.Equal(t, 0, c.Len())
	c.Resolve(net.IPv4(1, 2, 3, 4), net.HardwareAddr{1, 2, 3, 4, 5, 6})
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
}
