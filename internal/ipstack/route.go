package ipstack

import (
	"net"
	"sync"
)

// Interface binds an IPv4 address to a link-layer device (ip_iface).
type Interface struct {
	Device    Device
	Unicast   net.IP
	Netmask   net.IPMask
	Broadcast net.IP
}

func (i *Interface) network() net.IP {
	return i.Unicast.Mask(i.Netmask)
}

// route is one routing table entry (ip_route): a destination network plus
// the interface (and optional nexthop) to reach it through.
type route struct {
	network net.IP
	netmask net.IPMask
	nexthop net.IP // nil/unspecified means "directly connected"
	iface   *Interface
}

// RouteTable is the routing table (ip_route list), matched by longest
// prefix: "if there's a tie on matching network, pick the candidate with
// the more specific (longer) netmask", mirroring the original's
// `ntoh32(candidate->netmask) < ntoh32(route->netmask)` comparison. A
// route added later does not shadow an earlier, more specific one.
type RouteTable struct {
	mu     sync.RWMutex
	routes []*route
}

// NewRouteTable returns an empty table.
func NewRouteTable() *RouteTable { return &RouteTable{} }

// Add registers a route to network/netmask via iface, with an optional
// nexthop (nil for directly-connected).
func (t *RouteTable) Add(network net.IP, netmask net.IPMask, nexthop net.IP, iface *Interface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, &route{network: network.To4(), netmask: netmask, nexthop: nexthop, iface: iface})
}

// AddInterfaceRoute registers the directly-connected route implied by
// binding iface (ip_iface_register's own ip_route_add call).
func (t *RouteTable) AddInterfaceRoute(iface *Interface) {
	t.Add(iface.network(), iface.Netmask, nil, iface)
}

// SetDefaultGateway registers a 0.0.0.0/0 route via gateway through iface
// (ip_route_set_default_gateway).
func (t *RouteTable) SetDefaultGateway(iface *Interface, gateway net.IP) {
	t.Add(net.IPv4zero, net.CIDRMask(0, 32), gateway, iface)
}

// Lookup returns the longest-prefix-matching route for dst, or nil.
func (t *RouteTable) Lookup(dst net.IP) *route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dst4 := dst.To4()
	var best *route
	for _, r := range t.routes {
		if !dst4.Mask(r.netmask).Equal(r.network) {
			continue
		}
		if best == nil || prefixLen(r.netmask) > prefixLen(best.netmask) {
			best = r
		}
	}
	return best
}

// GetIface returns the interface that would be used to reach dst, or nil
// (ip_route_get_iface).
func (t *RouteTable) GetIface(dst net.IP) *Interface {
	r := t.Lookup(dst)
	if r == nil {
		return nil
	}
	return r.iface
}

func prefixLen(mask net.IPMask) int {
	ones, _ := mask.Size()
	return ones
}
