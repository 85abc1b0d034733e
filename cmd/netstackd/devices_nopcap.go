//go:build linux && !pcap

package main

import (
	"fmt"
	"log/slog"

	"github.com/netstackd/netstackd/internal/config"
	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/link"
	"github.com/netstackd/netstackd/internal/stack"
	"github.com/netstackd/netstackd/internal/worker"
)

// bringUpPcap is unavailable in default builds; rebuild with -tags pcap to
// bind a host interface via libpcap.
func bringUpPcap(log *slog.Logger, cfg *config.Config, core *stack.Stack, w *worker.Worker) (link.Device, *ipstack.Interface, error) {
	return nil, nil, fmt.Errorf("pcap: not built with -tags pcap")
}
