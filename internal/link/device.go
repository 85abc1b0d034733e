// Package link implements the link-layer device drivers: a device carries
// flags (UP, NEEDS_ARP, LOOPBACK), a transmit operation, and zero or more
// bound interfaces (ip addressing lives one layer up, in internal/ipstack).
// Inbound frames are queued inside each driver and reach the protocol
// stack only when the worker services the device's IRQ and calls Drain,
// matching loopback.c's transmit/isr split. Output never raises an IRQ:
// Loopback's Output only enqueues (cmd/netstackd polls it from a timer),
// while TAP and PcapDevice raise their IRQ from their read goroutines.
package link

import "net"

// Flags describes device capabilities, mirroring the original's
// NET_DEVICE_FLAG_* bits.
type Flags uint8

const (
	FlagUp Flags = 1 << iota
	FlagLoopback
	FlagNeedsARP
	FlagBroadcast
)

// Device is the link-layer driver surface. Collaborators above link
// (internal/arp, internal/ipstack) depend on this directly; internal/stack
// only sees the narrower stack.Device identity interface.
type Device interface {
	Name() string
	MTU() int
	Flags() Flags
	HardwareAddr() net.HardwareAddr
	BroadcastAddr() net.HardwareAddr

	// IRQ returns the interrupt number this device's inbound frames are
	// raised under. Shared IRQs are permitted (§4.1).
	IRQ() uint

	// Output transmits a frame. dst is the resolved link-layer address;
	// callers (internal/ipstack, internal/arp) are responsible for ARP
	// resolution before calling Output.
	Output(etherType uint16, dst net.HardwareAddr, payload []byte) error

	// Open and Close bring the underlying transport up and down.
	Open() error
	Close() error

	// Drain delivers every frame currently queued for inbound processing,
	// in order, to deliver. Called from the worker goroutine while
	// servicing this device's IRQ.
	Drain(deliver DeliverFunc)
}

// frame is one entry in a device's inbound queue.
type frame struct {
	etherType uint16
	payload   []byte
}

// DeliverFunc receives one drained inbound frame.
type DeliverFunc func(etherType uint16, payload []byte)
