// Command pingcheck sends real ICMP echo requests at a running netstackd
// instance from the host side, as an external verification tool separate
// from the stack itself.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/spf13/pflag"
)

func main() {
	var (
		target     string
		count      int
		interval   time.Duration
		timeout    time.Duration
		privileged bool
		verbose    bool
	)

	pflag.StringVarP(&target, "target", "d", "", "destination IPv4 address of the netstackd interface (required)")
	pflag.IntVarP(&count, "count", "c", 4, "number of echo requests to send (>0)")
	pflag.DurationVarP(&interval, "interval", "i", time.Second, "delay between echo requests")
	pflag.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "overall deadline for the run")
	pflag.BoolVar(&privileged, "privileged", false, "use a raw ICMP socket instead of a UDP datagram socket")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logs")
	pflag.Parse()

	if target == "" {
		fmt.Fprintln(os.Stderr, "error: --target is required")
		pflag.Usage()
		os.Exit(2)
	}
	if count <= 0 {
		fmt.Fprintln(os.Stderr, "error: --count must be > 0")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	pinger, err := probing.NewPinger(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pinger: %v\n", err)
		os.Exit(1)
	}
	pinger.Count = count
	pinger.Interval = interval
	pinger.Timeout = timeout
	pinger.SetPrivileged(privileged)

	pinger.OnRecv = func(pkt *probing.Packet) {
		log.Debug("pingcheck: reply", "seq", pkt.Seq, "rtt", pkt.Rtt, "ttl", pkt.Ttl)
		fmt.Printf("seq=%d rtt=%v\n", pkt.Seq, pkt.Rtt)
	}
	pinger.OnFinish = func(stats *probing.Statistics) {
		fmt.Printf("%d sent, %d received, %.1f%% loss, rtt min/avg/max = %v/%v/%v\n",
			stats.PacketsSent, stats.PacketsRecv, stats.PacketLoss,
			stats.MinRtt, stats.AvgRtt, stats.MaxRtt)
	}

	if err := pinger.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ping run failed: %v\n", err)
		os.Exit(1)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		os.Exit(1)
	}
}
