package link

import "net"

const dummyMTU = 65535

// Dummy discards everything written to it (a black hole, for exercising
// output paths in tests); its inbound path is driven entirely by test
// code calling Deliver directly, exactly as dummy.c's transmit drops the
// payload and dummy_isr does nothing but log.
type Dummy struct {
	irq  uint
	name string

	sent []sentFrame
	queue *frameQueue
}

type sentFrame struct {
	EtherType uint16
	Dst       net.HardwareAddr
	Payload   []byte
}

// NewDummy returns a Dummy device named name, registered under irq.
func NewDummy(name string, irq uint) *Dummy {
	return &Dummy{name: name, irq: irq, queue: newFrameQueue(0)}
}

func (d *Dummy) Name() string                   { return d.name }
func (d *Dummy) MTU() int                       { return dummyMTU }
func (d *Dummy) Flags() Flags                   { return FlagUp }
func (d *Dummy) HardwareAddr() net.HardwareAddr { return nil }
func (d *Dummy) BroadcastAddr() net.HardwareAddr { return nil }
func (d *Dummy) IRQ() uint                      { return d.irq }
func (d *Dummy) Open() error                    { return nil }
func (d *Dummy) Close() error                   { return nil }

// Output records the frame for test inspection (Sent) and discards it;
// dummy_transmit's real-world counterpart writes to nowhere.
func (d *Dummy) Output(etherType uint16, dst net.HardwareAddr, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	d.sent = append(d.sent, sentFrame{EtherType: etherType, Dst: dst, Payload: cp})
	return nil
}

// Sent returns every frame handed to Output so far, for test assertions.
func (d *Dummy) Sent() []sentFrame { return d.sent }

// Deliver injects an inbound frame as if it had arrived on the wire; test
// code calls this, then the worker's IRQ dispatch calls Drain to push it
// through the protocol stack.
func (d *Dummy) Deliver(etherType uint16, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return d.queue.push(frame{etherType: etherType, payload: cp})
}

// Drain delivers every frame injected via Deliver since the last call.
func (d *Dummy) Drain(deliver DeliverFunc) {
	for _, f := range d.queue.drain() {
		deliver(f.etherType, f.payload)
	}
}
