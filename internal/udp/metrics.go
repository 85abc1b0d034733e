package udp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type pcbMetrics struct {
	opened       prometheus.Counter
	inputDropped prometheus.Counter
	queuePushed  prometheus.Counter
}

var (
	metricOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_udp_sockets_opened_total",
		Help: "UDP sockets opened.",
	})
	metricInputDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_udp_input_dropped_total",
		Help: "Inbound UDP segments dropped: malformed, checksum mismatch, or no bound socket.",
	})
	metricQueuePushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_udp_queue_pushed_total",
		Help: "Datagrams delivered into a socket's receive queue.",
	})
)

func newPCBMetrics() pcbMetrics {
	return pcbMetrics{
		opened:       metricOpened,
		inputDropped: metricInputDropped,
		queuePushed:  metricQueuePushed,
	}
}
