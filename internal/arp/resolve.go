package arp

import (
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/netstackd/netstackd/internal/link"
)

// Resolution states returned by Resolve, mirroring ARP_RESOLVE_*.
type Resolution int

const (
	ResolveError Resolution = iota
	ResolveIncomplete
	ResolveFound
)

// Iface is the minimal IPv4-binding information the ARP collaborator
// needs from internal/ipstack: a device plus its unicast address.
type Iface struct {
	Device  link.Device
	Unicast net.IP
}

// Resolver is the ARP collaborator (C6): a cache shared across every
// bound interface, plus request/reply transmission and inbound handling.
type Resolver struct {
	log   *slog.Logger
	cache *Cache

	mu    sync.RWMutex
	ifacesByDevice map[string]*Iface

	group singleflight.Group

	metrics resolverMetrics
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		log:            log,
		cache:          NewCache(),
		ifacesByDevice: make(map[string]*Iface),
		metrics:        newResolverMetrics(),
	}
}

// Close releases the underlying cache's background goroutine.
func (r *Resolver) Close() { r.cache.Close() }

// BindIface associates iface with its device so Input can find the right
// local unicast address to compare against an inbound request's target.
func (r *Resolver) BindIface(iface *Iface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifacesByDevice[iface.Device.Name()] = iface
}

// Resolve looks up pa in the cache. On a miss it marks the entry
// INCOMPLETE, sends exactly one ARP request even under concurrent callers
// resolving the same address (singleflight — see DESIGN.md; the original
// single-threaded worker gets this for free, a multi-goroutine caller does
// not), and returns ResolveIncomplete. A cached INCOMPLETE entry re-sends
// the request in case the first one was lost, matching arp_resolve.
func (r *Resolver) Resolve(iface *Iface, pa net.IP) (net.HardwareAddr, Resolution) {
	ha, state, ok := r.cache.Lookup(pa)
	if ok && state != StateIncomplete {
		return ha, ResolveFound
	}

	r.group.Do(key(pa), func() (any, error) {
		if !ok {
			r.cache.MarkIncomplete(pa)
		}
		r.sendRequest(iface, pa)
		return nil, nil
	})
	return nil, ResolveIncomplete
}

// etherTypeARP is the link-level EtherType ARP messages are framed under
// (internal/stack.EtherTypeARP, duplicated for the same reason as
// etherTypeIPv4).
const etherTypeARP uint16 = 0x0806

func (r *Resolver) sendRequest(iface *Iface, tpa net.IP) {
	msg := Message{
		Op:  opRequest,
		SHA: iface.Device.HardwareAddr(),
		SPA: iface.Unicast,
		THA: make(net.HardwareAddr, hardwareAddrLen),
		TPA: tpa,
	}
	if err := iface.Device.Output(etherTypeARP, iface.Device.BroadcastAddr(), msg.Marshal()); err != nil {
		r.log.Warn("arp: request output failed", "error", err, "tpa", tpa)
	}
	r.metrics.requestsSent.Inc()
}

func (r *Resolver) sendReply(iface *Iface, tha net.HardwareAddr, tpa net.IP, dst net.HardwareAddr) {
	msg := Message{
		Op:  opReply,
		SHA: iface.Device.HardwareAddr(),
		SPA: iface.Unicast,
		THA: tha,
		TPA: tpa,
	}
	if err := iface.Device.Output(etherTypeARP, dst, msg.Marshal()); err != nil {
		r.log.Warn("arp: reply output failed", "error", err, "tpa", tpa)
	}
	r.metrics.repliesSent.Inc()
}

// Input processes one inbound ARP frame (arp_input). dev identifies which
// bound interface the frame arrived on; a frame on a device with no bound
// interface is dropped silently (§ REDESIGN FLAGS: "ARP input on missing
// interface: silent drop").
func (r *Resolver) Input(data []byte, dev link.Device) {
	msg, err := Unmarshal(data)
	if err != nil {
		r.log.Debug("arp: dropping malformed message", "error", err)
		r.metrics.inputDropped.Inc()
		return
	}

	// arp_cache_update only touches an existing, non-static entry; a miss
	// is left for the "merge" insert below.
	merged := false
	if _, state, ok := r.cache.Lookup(msg.SPA); ok && state != StateStatic {
		r.cache.Resolve(msg.SPA, msg.SHA)
		merged = true
	}

	r.mu.RLock()
	iface := r.ifacesByDevice[dev.Name()]
	r.mu.RUnlock()
	if iface == nil {
		return
	}

	if !iface.Unicast.Equal(msg.TPA) {
		return
	}

	if !merged {
		r.cache.Resolve(msg.SPA, msg.SHA)
	}

	if msg.Op == opRequest {
		r.sendReply(iface, msg.SHA, msg.SPA, msg.SHA)
	}
}
