//go:build linux

package link

import (
	"fmt"
	"net"
	"os"
	"sync"
	"unsafe"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const (
	tapMTU        = 1500
	tapQueueLimit = 256

	ifNameSize  = 16
	iffTap      = 0x0002
	iffNoPI     = 0x1000
	tunSetIFF   = 0x400454ca
	tunDevPath  = "/dev/net/tun"
)

type ifreq struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// TAP is a real kernel TAP device: Output writes raw Ethernet frames to
// the tun/tap character device, and a background goroutine blocks on
// read(2) and raises the device IRQ for every frame it picks up — the
// read loop cannot live on the worker goroutine (it blocks on a syscall),
// so it mirrors the original's split of "a source that can push interrupts
// from outside the worker" rather than loopback's synchronous queue.
type TAP struct {
	name     string
	irq      uint
	netnsRef string

	mu   sync.Mutex
	file *os.File

	queue *frameQueue
	hwaddr net.HardwareAddr

	raiseIRQ func()
	stop     chan struct{}
	wg       sync.WaitGroup
}

// TAPConfig configures a TAP device.
type TAPConfig struct {
	Name string
	IRQ  uint
	// Netns, if non-empty, is the name of a network namespace (as created
	// by `ip netns add`) the TAP device should be created inside, so that
	// multiple netstackd instances on one host do not collide over
	// interface names.
	Netns string
}

// NewTAP opens (creating if necessary) a TAP device per cfg. raiseIRQ is
// called every time Drain has work (the worker's RaiseIRQ, bound at
// wiring time).
func NewTAP(cfg TAPConfig, raiseIRQ func()) (*TAP, error) {
	t := &TAP{
		name:     cfg.Name,
		irq:      cfg.IRQ,
		netnsRef: cfg.Netns,
		queue:    newFrameQueue(tapQueueLimit),
		raiseIRQ: raiseIRQ,
		stop:     make(chan struct{}),
	}
	if err := t.open(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TAP) open() error {
	var restore func() error
	if t.netnsRef != "" {
		orig, err := netns.Get()
		if err != nil {
			return fmt.Errorf("link: netns.Get: %w", err)
		}
		target, err := netns.GetFromName(t.netnsRef)
		if err != nil {
			orig.Close()
			return fmt.Errorf("link: netns.GetFromName(%s): %w", t.netnsRef, err)
		}
		if err := netns.Set(target); err != nil {
			target.Close()
			orig.Close()
			return fmt.Errorf("link: netns.Set(%s): %w", t.netnsRef, err)
		}
		target.Close()
		restore = func() error {
			defer orig.Close()
			return netns.Set(orig)
		}
	}

	f, err := os.OpenFile(tunDevPath, os.O_RDWR, 0)
	if err != nil {
		if restore != nil {
			restore()
		}
		return fmt.Errorf("link: open %s: %w", tunDevPath, err)
	}

	var req ifreq
	copy(req.name[:], t.name)
	req.flags = iffTap | iffNoPI
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), tunSetIFF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		if restore != nil {
			restore()
		}
		return fmt.Errorf("link: ioctl TUNSETIFF: %w", errno)
	}
	t.file = f

	link, err := netlink.LinkByName(t.name)
	if err == nil {
		t.hwaddr = link.Attrs().HardwareAddr
		netlink.LinkSetUp(link)
	}

	if restore != nil {
		if err := restore(); err != nil {
			return fmt.Errorf("link: restoring original netns: %w", err)
		}
	}
	return nil
}

func (t *TAP) Name() string                   { return t.name }
func (t *TAP) MTU() int                       { return tapMTU }
func (t *TAP) Flags() Flags                   { return FlagUp | FlagNeedsARP | FlagBroadcast }
func (t *TAP) HardwareAddr() net.HardwareAddr { return t.hwaddr }
func (t *TAP) BroadcastAddr() net.HardwareAddr {
	return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}
func (t *TAP) IRQ() uint { return t.irq }

// Open starts the background read loop.
func (t *TAP) Open() error {
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

// Close stops the read loop and closes the underlying fd.
func (t *TAP) Close() error {
	close(t.stop)
	t.mu.Lock()
	err := t.file.Close()
	t.mu.Unlock()
	t.wg.Wait()
	return err
}

func (t *TAP) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := t.file.Read(buf)
		if err != nil {
			return
		}
		if n < 14 {
			continue // shorter than an Ethernet header
		}
		etherType := uint16(buf[12])<<8 | uint16(buf[13])
		payload := make([]byte, n-14)
		copy(payload, buf[14:n])
		if err := t.queue.push(frame{etherType: etherType, payload: payload}); err != nil {
			continue
		}
		t.raiseIRQ()
	}
}

// Output writes an Ethernet frame: dst address, this device's own address
// as source, etherType, then payload.
func (t *TAP) Output(etherType uint16, dst net.HardwareAddr, payload []byte) error {
	frame := make([]byte, 14+len(payload))
	copy(frame[0:6], dst)
	copy(frame[6:12], t.hwaddr)
	frame[12] = byte(etherType >> 8)
	frame[13] = byte(etherType)
	copy(frame[14:], payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.file.Write(frame)
	return err
}

// Drain delivers every frame read since the last call.
func (t *TAP) Drain(deliver DeliverFunc) {
	for _, f := range t.queue.drain() {
		deliver(f.etherType, f.payload)
	}
}
