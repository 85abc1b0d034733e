// Package stack holds the registries the worker dispatches into: the
// link-level protocol table (C2), the timer list (C3), and the event
// subscriber list used to interrupt parked scheduling contexts. It
// mirrors the original's package-level device/protocol/timer/event
// tables, moved onto a struct so multiple independent stacks can coexist
// in one process (useful for tests).
package stack

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/netstackd/netstackd/internal/worker"
)

// ErrProtocolRegistered is returned by RegisterProtocol for a duplicate
// ether type (§4.3: "duplicate type registration fails").
var ErrProtocolRegistered = errors.New("stack: protocol already registered")

// Link-level EtherTypes, matching the original's NET_PROTOCOL_TYPE_IP /
// NET_PROTOCOL_TYPE_ARP constants.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

// Stack is the registry and dispatch surface shared by every collaborator:
// devices register themselves, protocols bind handlers to EtherTypes,
// timers bind handlers to intervals, and event subscribers are notified on
// broadcast. All dispatch runs on the worker goroutine; registration is
// expected to happen before the worker starts and is not itself
// goroutine-safe against Run (matching "must not be called after
// net_run()" in the original).
type Stack struct {
	log    *slog.Logger
	worker *worker.Worker

	devMu   sync.Mutex
	devices []DeviceEntry

	protoMu   sync.RWMutex
	protocols map[uint16]*protocolEntry

	eventMu       sync.RWMutex
	eventHandlers []worker.EventHandler

	metrics stackMetrics
}

// New returns an empty Stack driven by w. w must not be Run yet.
func New(log *slog.Logger, w *worker.Worker) *Stack {
	if log == nil {
		log = slog.Default()
	}
	return &Stack{
		log:       log,
		worker:    w,
		protocols: make(map[uint16]*protocolEntry),
		metrics:   newStackMetrics(),
	}
}

// RegisterDevice records dev as present on irq. Must not be called after
// Run.
func (s *Stack) RegisterDevice(dev Device, irq uint) {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	s.devices = append(s.devices, DeviceEntry{Device: dev, IRQ: irq})
}

// Devices returns a snapshot of registered devices.
func (s *Stack) Devices() []DeviceEntry {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	out := make([]DeviceEntry, len(s.devices))
	copy(out, s.devices)
	return out
}

// Run blocks the calling goroutine on the underlying worker until ctx is
// canceled (the shutdown stimulus, §4.1).
func (s *Stack) Run(ctx context.Context) error {
	return s.worker.Run(ctx)
}
