package tcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type pcbMetrics struct {
	opened        prometheus.Counter
	released      prometheus.Counter
	inputDropped  prometheus.Counter
	retransmitted prometheus.Counter
	userTimeouts  prometheus.Counter
}

var (
	metricOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_tcp_connections_opened_total",
		Help: "TCP connections opened (active or passive).",
	})
	metricReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_tcp_connections_released_total",
		Help: "TCP PCBs released back to FREE.",
	})
	metricInputDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_tcp_input_dropped_total",
		Help: "Inbound TCP segments dropped: malformed or checksum mismatch.",
	})
	metricRetransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_tcp_segments_retransmitted_total",
		Help: "TCP segments retransmitted after RTO expiry.",
	})
	metricUserTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstackd_tcp_user_timeouts_total",
		Help: "Connections aborted by the user timeout.",
	})
)

func newPCBMetrics() pcbMetrics {
	return pcbMetrics{
		opened:        metricOpened,
		released:      metricReleased,
		inputDropped:  metricInputDropped,
		retransmitted: metricRetransmitted,
		userTimeouts:  metricUserTimeouts,
	}
}
