//go:build linux && pcap

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

// bringUpPcap binds -pcap's host interface via libpcap. Built only with
// -tags pcap; see devices_nopcap.go for the stub that keeps default builds
// from requiring libpcap headers.
func bringUpPcap(log *slog.Logger, cfg *config.Config, core *stack.Stack, w *worker.Worker) (link.Device, *ipstack.Interface, error) {
	hwaddr := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(pcapIRQ)}
	dev, err := link.NewPcapDevice(*pcapIface, pcapIRQ, hwaddr, func() { w.RaiseIRQ(pcapIRQ, nil) })
	if err != nil {
		return nil, nil, fmt.Errorf("pcap: %w", err)
	}
	if err := dev.Open(); err != nil {
		return nil, nil, fmt.Errorf("pcap: opening %s: %w", *pcapIface, err)
	}

	core.RegisterDevice(dev, pcapIRQ)
	w.RequestIRQ(pcapIRQ, func(_ uint, _ any) {
		dev.Drain(func(etherType uint16, payload []byte) {
			core.InputHandler(etherType, payload, dev)
		})
	}, nil)

	iface := addressInterface(cfg, dev, net.IPv4(192, 168, 200, 1), net.CIDRMask(24, 32), net.IPv4(192, 168, 200, 255))
	return dev, iface, nil
}
