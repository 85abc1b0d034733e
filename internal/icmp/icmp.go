// Package icmp implements the ICMP echo collaborator: it answers echo
// requests addressed to a bound interface and reports round-trip replies
// to a caller-supplied callback, registered against internal/ipstack under
// IP protocol 1.
package icmp

import (
	"encoding/binary"
	"log/slog"
	"net"

	"github.com/google/gopacket/layers"

	"github.com/netstackd/netstackd/internal/ipstack"
)

const (
	// Protocol is the IP protocol number ICMP registers under
	// (ip_protocol_register(IP_PROTOCOL_ICMP, ...)).
	Protocol uint8 = 1

	hdrLen = 8 // type, code, checksum, identifier, sequence
)

// EchoHandler receives an echo reply's identifier, sequence, and payload.
type EchoHandler func(id, seq uint16, payload []byte, peer net.IP)

// Responder answers ICMP echo requests over an internal/ipstack.Stack and
// reports replies to an optional EchoHandler (a server with no outstanding
// pings, such as cmd/netstackd, leaves it nil).
type Responder struct {
	log   *slog.Logger
	stack *ipstack.Stack

	onReply EchoHandler
}

// New registers a Responder's Input as stack's protocol-1 handler.
func New(log *slog.Logger, stack *ipstack.Stack, onReply EchoHandler) (*Responder, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Responder{log: log, stack: stack, onReply: onReply}
	if err := stack.RegisterProtocol(Protocol, r.input); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Responder) input(data []byte, src, dst net.IP, iface *ipstack.Interface) {
	if len(data) < hdrLen {
		r.log.Debug("icmp: short message dropped", "len", len(data))
		return
	}
	if checksum16(data) != 0 {
		r.log.Debug("icmp: checksum mismatch dropped")
		return
	}

	typ := data[0]
	id := binary.BigEndian.Uint16(data[4:6])
	seq := binary.BigEndian.Uint16(data[6:8])
	payload := data[hdrLen:]

	switch typ {
	case uint8(layers.ICMPv4TypeEchoRequest):
		reply := buildEcho(uint8(layers.ICMPv4TypeEchoReply), id, seq, payload)
		if _, err := r.stack.Output(Protocol, reply, iface.Unicast, src); err != nil {
			r.log.Debug("icmp: echo reply send failed", "error", err)
		}
	case uint8(layers.ICMPv4TypeEchoReply):
		if r.onReply != nil {
			r.onReply(id, seq, payload, src)
		}
	default:
		r.log.Debug("icmp: unsupported type dropped", "type", typ)
	}
}

// SendEcho transmits an echo request carrying id/seq/payload to dst.
func (r *Responder) SendEcho(src, dst net.IP, id, seq uint16, payload []byte) error {
	msg := buildEcho(uint8(layers.ICMPv4TypeEchoRequest), id, seq, payload)
	_, err := r.stack.Output(Protocol, msg, src, dst)
	return err
}

func buildEcho(typ uint8, id, seq uint16, payload []byte) []byte {
	buf := make([]byte, hdrLen+len(payload))
	buf[0] = typ
	buf[1] = 0 // code
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], seq)
	copy(buf[hdrLen:], payload)

	sum := checksum16(buf)
	binary.BigEndian.PutUint16(buf[2:4], sum)
	return buf
}

// checksum16 is the same ones'-complement algorithm ip.c and internal/ipstack
// use, applied here over the full ICMP message rather than just a header.
func checksum16(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
