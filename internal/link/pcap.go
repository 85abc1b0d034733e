//go:build pcap

package link

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	pcapMTU        = 1500
	pcapQueueLimit = 256
)

// PcapDevice binds a host network interface via libpcap, for running the
// stack against real traffic without a dedicated TAP. Build with -tags
// pcap (requires libpcap headers); otherwise the stack only offers
// Loopback/Dummy/TAP.
type PcapDevice struct {
	name   string
	irq    uint
	handle *pcap.Handle
	hwaddr net.HardwareAddr

	queue    *frameQueue
	raiseIRQ func()
	stop     chan struct{}
}

// NewPcapDevice opens a live capture on ifaceName.
func NewPcapDevice(ifaceName string, irq uint, hwaddr net.HardwareAddr, raiseIRQ func()) (*PcapDevice, error) {
	handle, err := pcap.OpenLive(ifaceName, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("link: pcap.OpenLive(%s): %w", ifaceName, err)
	}
	return &PcapDevice{
		name:     ifaceName,
		irq:      irq,
		handle:   handle,
		hwaddr:   hwaddr,
		queue:    newFrameQueue(pcapQueueLimit),
		raiseIRQ: raiseIRQ,
		stop:     make(chan struct{}),
	}, nil
}

func (p *PcapDevice) Name() string                   { return p.name }
func (p *PcapDevice) MTU() int                       { return pcapMTU }
func (p *PcapDevice) Flags() Flags                   { return FlagUp | FlagNeedsARP | FlagBroadcast }
func (p *PcapDevice) HardwareAddr() net.HardwareAddr { return p.hwaddr }
func (p *PcapDevice) BroadcastAddr() net.HardwareAddr {
	return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}
func (p *PcapDevice) IRQ() uint { return p.irq }

func (p *PcapDevice) Open() error {
	go p.readLoop()
	return nil
}

func (p *PcapDevice) Close() error {
	close(p.stop)
	p.handle.Close()
	return nil
}

func (p *PcapDevice) readLoop() {
	src := gopacket.NewPacketSource(p.handle, layers.LayerTypeEthernet)
	for {
		select {
		case <-p.stop:
			return
		case packet, ok := <-src.Packets():
			if !ok {
				return
			}
			eth, ok := packet.LinkLayer().(*layers.Ethernet)
			if !ok {
				continue
			}
			if err := p.queue.push(frame{etherType: uint16(eth.EthernetType), payload: eth.Payload}); err != nil {
				continue
			}
			p.raiseIRQ()
		}
	}
}

func (p *PcapDevice) Output(etherType uint16, dst net.HardwareAddr, payload []byte) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	eth := layers.Ethernet{
		SrcMAC:       p.hwaddr,
		DstMAC:       dst,
		EthernetType: layers.EthernetType(etherType),
	}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("link: serialize ethernet frame: %w", err)
	}
	return p.handle.WritePacketData(buf.Bytes())
}

func (p *PcapDevice) Drain(deliver DeliverFunc) {
	for _, f := range p.queue.drain() {
		deliver(f.etherType, f.payload)
	}
}
