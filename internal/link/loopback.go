package link

import "net"

const (
	loopbackMTU        = 65535
	loopbackQueueLimit = 16
)

// Loopback is the in-process loopback device: every frame transmitted on
// it is handed straight back to its own inbound queue, the same "transmit
// pushes the queue, ISR pops the queue" split as loopback.c.
type Loopback struct {
	irq   uint
	queue *frameQueue
}

// NewLoopback returns a Loopback registered under irq.
func NewLoopback(irq uint) *Loopback {
	return &Loopback{irq: irq, queue: newFrameQueue(loopbackQueueLimit)}
}

func (l *Loopback) Name() string               { return "lo0" }
func (l *Loopback) MTU() int                   { return loopbackMTU }
func (l *Loopback) Flags() Flags               { return FlagUp | FlagLoopback }
func (l *Loopback) HardwareAddr() net.HardwareAddr { return nil }
func (l *Loopback) BroadcastAddr() net.HardwareAddr { return nil }
func (l *Loopback) IRQ() uint                  { return l.irq }
func (l *Loopback) Open() error                { return nil }
func (l *Loopback) Close() error               { return nil }

// Output enqueues the frame for delivery back through Drain; the caller
// (the worker, via the device's IRQ handler) is expected to call Drain
// afterward to actually invoke the protocol input path.
func (l *Loopback) Output(etherType uint16, dst net.HardwareAddr, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return l.queue.push(frame{etherType: etherType, payload: cp})
}

// Drain delivers every queued frame to deliver, in FIFO order. Called from
// the worker goroutine servicing this device's IRQ.
func (l *Loopback) Drain(deliver DeliverFunc) {
	for _, f := range l.queue.drain() {
		deliver(f.etherType, f.payload)
	}
}
