//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/netstackd/netstackd/internal/config"
	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/link"
	"github.com/netstackd/netstackd/internal/stack"
	"github.com/netstackd/netstackd/internal/worker"
)

// bringUpTAP creates the kernel TAP device named by -tap and wires it into
// core. TAP pushes its own IRQ from a background read loop, so unlike
// loopback it needs no polling timer.
func bringUpTAP(log *slog.Logger, cfg *config.Config, core *stack.Stack, w *worker.Worker) (link.Device, *ipstack.Interface, error) {
	dev, err := link.NewTAP(link.TAPConfig{
		Name:  *tapName,
		IRQ:   tapIRQ,
		Netns: *tapNetns,
	}, func() { w.RaiseIRQ(tapIRQ, nil) })
	if err != nil {
		return nil, nil, fmt.Errorf("tap: %w", err)
	}
	if err := dev.Open(); err != nil {
		return nil, nil, fmt.Errorf("tap: opening %s: %w", *tapName, err)
	}

	core.RegisterDevice(dev, tapIRQ)
	w.RequestIRQ(tapIRQ, func(_ uint, _ any) {
		dev.Drain(func(etherType uint16, payload []byte) {
			core.InputHandler(etherType, payload, dev)
		})
	}, nil)

	iface := addressInterface(cfg, dev, net.IPv4(192, 168, 100, 1), net.CIDRMask(24, 32), net.IPv4(192, 168, 100, 255))
	return dev, iface, nil
}
