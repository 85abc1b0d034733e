package arp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type resolverMetrics struct {
	requestsSent prometheus.Counter
	repliesSent  prometheus.Counter
	inputDropped prometheus.Counter
}

var (
	metricRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_arp_requests_sent_total",
		Help: "ARP requests transmitted.",
	})
	metricRepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_arp_replies_sent_total",
		Help: "ARP replies transmitted.",
	})
	metricInputDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_arp_input_dropped_total",
		Help: "Inbound ARP messages dropped as malformed or unsupported.",
	})
)

func newResolverMetrics() resolverMetrics {
	return resolverMetrics{
		requestsSent: metricRequestsSent,
		repliesSent:  metricRepliesSent,
		inputDropped: metricInputDropped,
	}
}
