// Package ipstack implements the IP collaborator (C5): route lookup,
// datagram encode/decode with checksum, dispatch by protocol number, and
// Output/Input, grounded on original_source/ip.c.
package ipstack

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	version4  = 4
	hdrLenMin = 20 // IP_HDR_SIZE_MIN, no options
	ttlDefault = 255
)

var (
	ErrShort          = errors.New("ipstack: datagram shorter than header")
	ErrVersion        = errors.New("ipstack: unsupported IP version")
	ErrHeaderLen      = errors.New("ipstack: header length exceeds datagram")
	ErrTotalLen       = errors.New("ipstack: total length exceeds datagram")
	ErrChecksum       = errors.New("ipstack: header checksum mismatch")
	ErrFragmented     = errors.New("ipstack: fragmentation not supported")
	ErrNoRoute        = errors.New("ipstack: no route to host")
	ErrBroadcastEndpoint = errors.New("ipstack: broadcast source or destination rejected")
	ErrProtocolRegistered = errors.New("ipstack: protocol number already registered")
)

// Header is a decoded IPv4 header (options are never supported, matching
// the original's "IP_HDR_SIZE_MIN を固定とする（オプションなし）").
type Header struct {
	TOS      uint8
	Total    uint16
	ID       uint16
	Offset   uint16
	TTL      uint8
	Protocol uint8
	Src      net.IP
	Dst      net.IP
}

// checksum16 computes the ones'-complement checksum over b, the Go
// equivalent of cksum16(): sum 16-bit words, fold carries, complement.
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

// ParseHeader validates and decodes the IPv4 header at the front of data,
// returning the header and the offset of its payload. Fragmented
// datagrams are rejected (no reassembly support, matching the original).
func ParseHeader(data []byte) (Header, int, error) {
	if len(data) < hdrLenMin {
		return Header{}, 0, ErrShort
	}
	vhl := data[0]
	if v := vhl >> 4; v != version4 {
		return Header{}, 0, ErrVersion
	}
	hlen := int(vhl&0x0f) << 2
	if hlen > len(data) {
		return Header{}, 0, ErrHeaderLen
	}
	total := int(binary.BigEndian.Uint16(data[2:4]))
	if total > len(data) {
		return Header{}, 0, ErrTotalLen
	}
	if checksum16(data[:hlen]) != 0 {
		return Header{}, 0, ErrChecksum
	}
	offset := binary.BigEndian.Uint16(data[6:8])
	if offset&0x2000 != 0 || offset&0x1fff != 0 {
		return Header{}, 0, ErrFragmented
	}

	h := Header{
		TOS:      data[1],
		Total:    uint16(total),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		Offset:   offset,
		TTL:      data[8],
		Protocol: data[9],
		Src:      net.IP(append([]byte(nil), data[12:16]...)),
		Dst:      net.IP(append([]byte(nil), data[16:20]...)),
	}
	return h, hlen, nil
}

// BuildDatagram assembles a full IPv4 datagram: the fixed 20-byte header
// (no options, TTL 255, TOS 0 per ip_output_core) followed by payload.
func BuildDatagram(id uint16, protocol uint8, src, dst net.IP, payload []byte) []byte {
	total := hdrLenMin + len(payload)
	buf := make([]byte, total)
	buf[0] = version4<<4 | (hdrLenMin >> 2)
	buf[1] = 0 // TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], 0) // offset/flags, no fragmentation
	buf[8] = ttlDefault
	buf[9] = protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum placeholder
	copy(buf[12:16], src.To4())
	copy(buf[16:20], dst.To4())
	copy(buf[20:], payload)

	sum := checksum16(buf[:hdrLenMin])
	binary.BigEndian.PutUint16(buf[10:12], sum)
	return buf
}
