package ipstack

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/link"
)

func TestRouteTable_AddInterfaceRoute_MatchesDirectlyConnected(t *testing.T) {
	rt := NewRouteTable()
	iface := &Interface{
		Device:    link.NewDummy("eth0", 1),
		Unicast:   net.IPv4(192, 168, 1, 10),
		Netmask:   net.CIDRMask(24, 32),
		Broadcast: net.IPv4(192, 168, 1, 255),
	}
	rt.AddInterfaceRoute(iface)

	got := rt.GetIface(net.IPv4(192, 168, 1, 200))
	require.Same(t, iface, got)
}

func TestRouteTable_Lookup_PrefersMostSpecificMatch(t *testing.T) {
	rt := NewRouteTable()
	wide := &Interface{Device: link.NewDummy("eth0", 1)}
	narrow := &Interface{Device: link.NewDummy("eth1", 2)}

	rt.Add(net.IPv4(10, 0, 0, 0).To4(), net.CIDRMask(8, 32), nil, wide)
	rt.Add(net.IPv4(10, 0, 1, 0).To4(), net.CIDRMask(24, 32), nil, narrow)

	got := rt.GetIface(net.IPv4(10, 0, 1, 5))
	require.Same(t, narrow, got)

	got = rt.GetIface(net.IPv4(10, 0, 2, 5))
	require.Same(t, wide, got)
}

func TestRouteTable_SetDefaultGateway_MatchesEverythingElse(t *testing.T) {
	rt := NewRouteTable()
	lan := &Interface{Device: link.NewDummy("eth0", 1)}
	wan := &Interface{Device: link.NewDummy("eth1", 2)}

	rt.Add(net.IPv4(192, 168, 1, 0).To4(), net.CIDRMask(24, 32), nil, lan)
	rt.SetDefaultGateway(wan, net.IPv4(203, 0, 113, 1))

	require.Same(t, lan, rt.GetIface(net.IPv4(192, 168, 1, 50)))
	require.Same(t, wan, rt.GetIface(net.IPv4(8, 8, 8, 8)))

	r := rt.Lookup(net.IPv4(8, 8, 8, 8))
	require.True(t, r.nexthop.Equal(net.IPv4(203, 0, 113, 1)))
}

func TestRouteTable_Lookup_NoMatchReturnsNil(t *testing.T) {
	rt := NewRouteTable()
	rt.Add(net.IPv4(10, 0, 0, 0).To4(), net.CIDRMask(8, 32), nil, &Interface{Device: link.NewDummy("eth0", 1)})

	require.Nil(t, rt.GetIface(net.IPv4(192, 168, 1, 1)))
}
