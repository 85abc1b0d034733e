//go:build linux

// Command netstackd runs the userspace TCP/IP stack: it brings up the
// configured link devices, wires the IP/ARP/ICMP/TCP/UDP collaborators
// onto the worker, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netstackd/netstackd/internal/arp"
	"github.com/netstackd/netstackd/internal/config"
	"github.com/netstackd/netstackd/internal/icmp"
	"github.com/netstackd/netstackd/internal/ipstack"
	"github.com/netstackd/netstackd/internal/link"
	"github.com/netstackd/netstackd/internal/stack"
	"github.com/netstackd/netstackd/internal/tcp"
	"github.com/netstackd/netstackd/internal/udp"
	"github.com/netstackd/netstackd/internal/worker"
)

var (
	configPath  = flag.String("config", "", "path to JSON stack configuration")
	useLoopback = flag.Bool("loopback", true, "bring up the loopback device")
	tapName     = flag.String("tap", "", "bring up a Linux TAP device with this name")
	tapNetns    = flag.String("tap-netns", "", "network namespace to create the TAP device in")
	pcapIface   = flag.String("pcap", "", "bind a host interface via libpcap (requires -tags pcap)")
	metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables it")
	verbose     = flag.Bool("v", false, "enable verbose (debug, JSON) logging")

	// set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	loopbackIRQ = 1
	tapIRQ      = 2
	pcapIRQ     = 3

	loopbackPollInterval = time.Millisecond
	tickInterval         = time.Millisecond
)

func main() {
	flag.Parse()
	log := newLogger(*verbose)

	if *metricsAddr != "" {
		go serveMetrics(log, *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("netstackd: exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	if verbose {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("netstackd: metrics listener failed", "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("netstackd: metrics listening", "addr", listener.Addr().String())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("netstackd: metrics server stopped", "error", err)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	log.Info("netstackd: starting", "version", version, "commit", commit, "date", date)

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.New("")
	}

	w := worker.New(log, tickInterval)
	core := stack.New(log, w)
	resolver := arp.NewResolver(log)
	defer resolver.Close()
	ip := ipstack.New(log, resolver)

	if err := wireARP(core, resolver); err != nil {
		return fmt.Errorf("registering arp: %w", err)
	}
	if err := wireIP(core, ip); err != nil {
		return fmt.Errorf("registering ip: %w", err)
	}

	if err := bringUpDevices(log, cfg, core, ip, w); err != nil {
		return fmt.Errorf("bringing up devices: %w", err)
	}

	if _, err := icmp.New(log, ip, nil); err != nil {
		return fmt.Errorf("starting icmp: %w", err)
	}
	if _, err := udp.New(log, ip, core); err != nil {
		return fmt.Errorf("starting udp: %w", err)
	}
	bufSize := cfg.BufferSize()
	if _, err := tcp.New(log, ip, core, tcp.Config{BufferSize: bufSize}); err != nil {
		return fmt.Errorf("starting tcp: %w", err)
	}

	log.Info("netstackd: stack ready, entering run loop")
	return core.Run(ctx)
}

// wireARP registers the resolver's Input against core's ARP EtherType. The
// adapter exists because internal/stack.ProtocolHandler is expressed in
// terms of stack.Device (identity only) while internal/arp.Resolver.Input
// wants the fuller link.Device; every concrete device this program creates
// implements both.
func wireARP(core *stack.Stack, resolver *arp.Resolver) error {
	return core.RegisterProtocol(stack.EtherTypeARP, func(data []byte, dev stack.Device) {
		ld, ok := dev.(link.Device)
		if !ok {
			return
		}
		resolver.Input(data, ld)
	})
}

func wireIP(core *stack.Stack, ip *ipstack.Stack) error {
	return core.RegisterProtocol(stack.EtherTypeIPv4, func(data []byte, dev stack.Device) {
		ld, ok := dev.(link.Device)
		if !ok {
			return
		}
		ip.Input(data, ld)
	})
}

// bringUpDevices constructs the requested link devices, binds each one's
// drain into core's soft-IRQ input path, and addresses it per cfg (falling
// back to a sane loopback default when no config entry exists).
func bringUpDevices(log *slog.Logger, cfg *config.Config, core *stack.Stack, ip *ipstack.Stack, w *worker.Worker) error {
	if *useLoopback {
		lo := link.NewLoopback(loopbackIRQ)
		wireDrainingDevice(core, w, lo, loopbackIRQ)
		// Loopback never raises its own IRQ (Output just enqueues), so
		// poll it on a timer instead of waiting for a push-based source.
		core.RegisterTimer(loopbackPollInterval, func() { w.RaiseIRQ(loopbackIRQ, lo) })

		iface := addressInterface(cfg, lo, net.IPv4(127, 0, 0, 1), net.CIDRMask(8, 32), net.IPv4(127, 255, 255, 255))
		ip.AddInterface(iface)
		log.Info("netstackd: loopback up", "unicast", iface.Unicast)
	}

	if *tapName != "" {
		dev, iface, err := bringUpTAP(log, cfg, core, w)
		if err != nil {
			return err
		}
		ip.AddInterface(iface)
		log.Info("netstackd: tap up", "name", dev.Name(), "unicast", iface.Unicast)
	}

	if *pcapIface != "" {
		dev, iface, err := bringUpPcap(log, cfg, core, w)
		if err != nil {
			return err
		}
		ip.AddInterface(iface)
		log.Info("netstackd: pcap up", "name", dev.Name(), "unicast", iface.Unicast)
	}

	return nil
}

// wireDrainingDevice registers dev with core and requests its IRQ: every
// raise drains dev's inbound queue straight into core's soft-IRQ path.
func wireDrainingDevice(core *stack.Stack, w *worker.Worker, dev link.Device, irq uint) {
	core.RegisterDevice(dev, irq)
	w.RequestIRQ(irq, func(_ uint, devArg any) {
		d, ok := devArg.(link.Device)
		if !ok {
			return
		}
		d.Drain(func(etherType uint16, payload []byte) {
			core.InputHandler(etherType, payload, d)
		})
	}, dev)
}

// addressInterface looks up dev's name in cfg and returns an Interface
// addressed accordingly, falling back to (defaultAddr, defaultMask,
// defaultBroadcast) when unconfigured.
func addressInterface(cfg *config.Config, dev link.Device, defaultAddr net.IP, defaultMask net.IPMask, defaultBroadcast net.IP) *ipstack.Interface {
	ic, ok := cfg.InterfaceByDevice(dev.Name())
	if !ok {
		return &ipstack.Interface{Device: dev, Unicast: defaultAddr, Netmask: defaultMask, Broadcast: defaultBroadcast}
	}
	return &ipstack.Interface{
		Device:    dev,
		Unicast:   parseIPOr(ic.Unicast, defaultAddr),
		Netmask:   parseMaskOr(ic.Netmask, defaultMask),
		Broadcast: parseIPOr(ic.Broadcast, defaultBroadcast),
	}
}

func parseIPOr(s string, fallback net.IP) net.IP {
	if ip := net.ParseIP(s); ip != nil {
		return ip.To4()
	}
	return fallback
}

func parseMaskOr(s string, fallback net.IPMask) net.IPMask {
	ip := net.ParseIP(s)
	if ip == nil {
		return fallback
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IPMask(v4)
	}
	return fallback
}
