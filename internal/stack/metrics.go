package stack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type stackMetrics struct {
	queuedFrames       *prometheus.CounterVec
	droppedUnknownType prometheus.Counter
}

var (
	metricQueuedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstackd_protocol_queued_frames_total",
			Help: "Frames appended to a protocol's receive queue, by ether type.",
		},
		[]string{"ether_type"},
	)

	metricDroppedUnknownType = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netstackd_protocol_dropped_unknown_type_total",
			Help: "Inbound frames dropped because no protocol is registered for their ether type.",
		},
	)
)

func newStackMetrics() stackMetrics {
	return stackMetrics{
		queuedFrames:       metricQueuedFrames,
		droppedUnknownType: metricDroppedUnknownType,
	}
}
