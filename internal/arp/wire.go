// Package arp implements IPv4-over-Ethernet address resolution: wire
// encode/decode, a cache with FREE/INCOMPLETE/RESOLVED/STATIC states and
// 30s aging, and the request/reply exchange grounded on original_source/arp.c.
package arp

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	hdrEthernet uint16 = 0x0001
	opRequest   uint16 = 1
	opReply     uint16 = 2

	hardwareAddrLen = 6
	protoAddrLen    = 4

	// wireLen is sizeof(struct arp_ether_ip): 8-byte header + 2*(6+4).
	wireLen = 8 + 2*(hardwareAddrLen+protoAddrLen)
)

// ErrShort is returned by Unmarshal when data is smaller than a full
// Ethernet/IPv4 ARP message.
var ErrShort = errors.New("arp: message too short")

// ErrUnsupported is returned by Unmarshal for a hardware/protocol address
// family other than Ethernet/IPv4.
var ErrUnsupported = errors.New("arp: unsupported hardware or protocol address type")

// Message is an Ethernet/IPv4 ARP request or reply (arp_ether_ip).
type Message struct {
	Op  uint16
	SHA net.HardwareAddr // sender hardware address
	SPA net.IP           // sender protocol address
	THA net.HardwareAddr // target hardware address
	TPA net.IP           // target protocol address
}

// Marshal encodes m into its wire form.
func (m Message) Marshal() []byte {
	b := make([]byte, wireLen)
	binary.BigEndian.PutUint16(b[0:2], hdrEthernet)
	binary.BigEndian.PutUint16(b[2:4], etherTypeIPv4)
	b[4] = hardwareAddrLen
	b[5] = protoAddrLen
	binary.BigEndian.PutUint16(b[6:8], m.Op)
	copy(b[8:14], m.SHA)
	copy(b[14:18], m.SPA.To4())
	copy(b[18:24], m.THA)
	copy(b[24:28], m.TPA.To4())
	return b
}

// Unmarshal decodes an Ethernet/IPv4 ARP message from data.
func Unmarshal(data []byte) (Message, error) {
	if len(data) < wireLen {
		return Message{}, ErrShort
	}
	hdr := binary.BigEndian.Uint16(data[0:2])
	hln := data[4]
	pro := binary.BigEndian.Uint16(data[2:4])
	pln := data[5]
	if hdr != hdrEthernet || hln != hardwareAddrLen {
		return Message{}, ErrUnsupported
	}
	if pro != etherTypeIPv4 || pln != protoAddrLen {
		return Message{}, ErrUnsupported
	}

	m := Message{
		Op:  binary.BigEndian.Uint16(data[6:8]),
		SHA: net.HardwareAddr(append([]byte(nil), data[8:14]...)),
		SPA: net.IP(append([]byte(nil), data[14:18]...)),
		THA: net.HardwareAddr(append([]byte(nil), data[18:24]...)),
		TPA: net.IP(append([]byte(nil), data[24:28]...)),
	}
	return m, nil
}

// etherTypeIPv4 mirrors ARP_PRO_IP ("use same value as the Ethernet
// types"); duplicated here rather than importing internal/stack, to keep
// this package dependency-free below the link layer.
const etherTypeIPv4 uint16 = 0x0800
