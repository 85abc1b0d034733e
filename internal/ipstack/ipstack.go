package ipstack

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/netstackd/netstackd/internal/arp"
	"github.com/netstackd/netstackd/internal/link"
)

// Device is the link.Device subset ipstack depends on directly.
type Device = link.Device

// ProtocolHandler processes one reassembled IP payload, matching
// ip_protocol_register's handler signature.
type ProtocolHandler func(data []byte, src, dst net.IP, iface *Interface)

type protocolEntry struct {
	protocol uint8
	handler  ProtocolHandler
}

// Stack is the IP collaborator: interface bindings, the route table, the
// protocol-number registry, and the ARP resolver devices that need
// address resolution delegate to.
type Stack struct {
	log *slog.Logger
	arp *arp.Resolver

	Routes *RouteTable

	mu        sync.RWMutex
	ifaces    []*Interface
	ifaceByDev map[string]*Interface

	protoMu   sync.RWMutex
	protocols []protocolEntry

	id atomic.Uint32
}

// idStart is the first outbound datagram ID (ip_output's static id
// variable begins at 128, not 0).
const idStart = 128

// New returns a Stack using resolver for link-layer address resolution.
func New(log *slog.Logger, resolver *arp.Resolver) *Stack {
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{
		log:        log,
		arp:        resolver,
		Routes:     NewRouteTable(),
		ifaceByDev: make(map[string]*Interface),
	}
	s.id.Store(idStart - 1)
	return s
}

// AddInterface binds iface, registers its directly-connected route, and
// (if the device needs ARP) binds it with the resolver.
func (s *Stack) AddInterface(iface *Interface) {
	s.mu.Lock()
	s.ifaces = append(s.ifaces, iface)
	s.ifaceByDev[iface.Device.Name()] = iface
	s.mu.Unlock()

	s.Routes.AddInterfaceRoute(iface)

	if iface.Device.Flags()&link.FlagNeedsARP != 0 && s.arp != nil {
		s.arp.BindIface(&arp.Iface{Device: iface.Device, Unicast: iface.Unicast})
	}
}

// RegisterProtocol binds handler to protocol (ip_protocol_register); a
// duplicate protocol number is rejected.
func (s *Stack) RegisterProtocol(protocol uint8, handler ProtocolHandler) error {
	s.protoMu.Lock()
	defer s.protoMu.Unlock()
	for _, e := range s.protocols {
		if e.protocol == protocol {
			return ErrProtocolRegistered
		}
	}
	s.protocols = append(s.protocols, protocolEntry{protocol: protocol, handler: handler})
	return nil
}

// Input processes one inbound link-layer frame carrying an IP datagram
// (ip_input). dev is the device it arrived on.
func (s *Stack) Input(data []byte, dev link.Device) {
	hdr, hlen, err := ParseHeader(data)
	if err != nil {
		s.log.Debug("ipstack: dropping datagram", "error", err)
		return
	}

	s.mu.RLock()
	iface := s.ifaceByDev[dev.Name()]
	s.mu.RUnlock()
	if iface == nil {
		return
	}

	dst := hdr.Dst
	if !dst.Equal(net.IPv4bcast) && !dst.Equal(iface.Unicast) && !dst.Equal(iface.Broadcast) {
		return // addressed to some other host
	}

	payload := data[hlen:int(hdr.Total)]

	s.protoMu.RLock()
	defer s.protoMu.RUnlock()
	for _, e := range s.protocols {
		if e.protocol == hdr.Protocol {
			e.handler(payload, hdr.Src, hdr.Dst, iface)
			return
		}
	}
	// unsupported protocol: dropped, as in the original.
}

// Output builds and transmits an IP datagram for protocol from src to
// dst, carrying payload. A limited-broadcast (255.255.255.255) source is
// rejected; a broadcast destination is not, and outputDevice sends it to
// the link broadcast address.
func (s *Stack) Output(protocol uint8, payload []byte, src, dst net.IP) (int, error) {
	if src.Equal(net.IPv4bcast) {
		return 0, ErrBroadcastEndpoint
	}

	r := s.Routes.Lookup(dst)
	if r == nil {
		return 0, ErrNoRoute
	}
	iface := r.iface

	nexthop := dst
	if r.nexthop != nil && !r.nexthop.Equal(net.IPv4zero) {
		nexthop = r.nexthop
	}

	id := uint16(s.id.Add(1))
	datagram := BuildDatagram(id, protocol, iface.Unicast, dst, payload)

	if err := s.outputDevice(iface, datagram, nexthop); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// outputDevice resolves the link-layer address (ARP, if the device needs
// it) and transmits (ip_output_device).
func (s *Stack) outputDevice(iface *Interface, datagram []byte, dst net.IP) error {
	dev := iface.Device
	var hwaddr net.HardwareAddr

	if dev.Flags()&link.FlagNeedsARP != 0 {
		if dst.Equal(iface.Broadcast) || dst.Equal(net.IPv4bcast) {
			hwaddr = dev.BroadcastAddr()
		} else {
			ha, res := s.arp.Resolve(&arp.Iface{Device: dev, Unicast: iface.Unicast}, dst)
			if res != arp.ResolveFound {
				return ErrNoRoute // caller (TCP) treats any non-success as dropped
			}
			hwaddr = ha
		}
	}

	return dev.Output(ipv4EtherType, hwaddr, datagram)
}

// ipv4EtherType duplicates internal/stack.EtherTypeIPv4 to avoid a
// dependency from ipstack on stack; both packages sit below the worker.
const ipv4EtherType uint16 = 0x0800
