// Package tcp implements the TCP engine (C8): the PCB table, RFC 793
// segment arrival, output and retransmission, and the four user commands,
// grounded on original_source/tcp.c.
package tcp

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	hdrLen      = 20 // fixed TCP header, no options
	protocolTCP = 6  // IP protocol number TCP registers under
)

// Flags are the low 6 bits of the TCP header's flag byte.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	b := [6]byte{'-', '-', '-', '-', '-', '-'}
	if f.has(FlagURG) {
		b[0] = 'U'
	}
	if f.has(FlagACK) {
		b[1] = 'A'
	}
	if f.has(FlagPSH) {
		b[2] = 'P'
	}
	if f.has(FlagRST) {
		b[3] = 'R'
	}
	if f.has(FlagSYN) {
		b[4] = 'S'
	}
	if f.has(FlagFIN) {
		b[5] = 'F'
	}
	return string(b[:])
}

var (
	ErrShort    = errors.New("tcp: segment shorter than header")
	ErrChecksum = errors.New("tcp: checksum mismatch")
)

// header is a decoded TCP header.
type header struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flags
	Window  uint16
	Urgent  uint16
}

func pseudoSum(src, dst net.IP, protocol uint8, length int) uint32 {
	b := make([]byte, 12)
	copy(b[0:4], src.To4())
	copy(b[4:8], dst.To4())
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:12], uint16(length))
	return onesComplementSum(b, 0)
}

func onesComplementSum(b []byte, seed uint32) uint32 {
	sum := seed
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// parseHeader validates and decodes a TCP segment's header.
func parseHeader(data []byte, src, dst net.IP) (header, []byte, error) {
	if len(data) < hdrLen {
		return header{}, nil, ErrShort
	}
	psum := pseudoSum(src, dst, protocolTCP, len(data))
	if foldChecksum(onesComplementSum(data, psum)) != 0 {
		return header{}, nil, ErrChecksum
	}

	off := data[12] >> 4
	hlen := int(off) << 2
	if hlen > len(data) {
		return header{}, nil, ErrShort
	}

	h := header{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		Ack:     binary.BigEndian.Uint32(data[8:12]),
		Flags:   Flags(data[13] & 0x3f),
		Window:  binary.BigEndian.Uint16(data[14:16]),
		Urgent:  binary.BigEndian.Uint16(data[18:20]),
	}
	return h, data[hlen:], nil
}

// buildSegment assembles a full TCP segment with checksum populated.
func buildSegment(local, foreign Endpoint, seq, ack uint32, flags Flags, window uint16, data []byte) []byte {
	total := hdrLen + len(data)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], local.Port)
	binary.BigEndian.PutUint16(buf[2:4], foreign.Port)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], ack)
	buf[12] = (hdrLen >> 2) << 4 // data offset, no options
	buf[13] = byte(flags)
	binary.BigEndian.PutUint16(buf[14:16], window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(buf[18:20], 0) // urgent pointer
	copy(buf[hdrLen:], data)

	psum := pseudoSum(local.Addr, foreign.Addr, protocolTCP, total)
	sum := foldChecksum(onesComplementSum(buf, psum))
	binary.BigEndian.PutUint16(buf[16:18], sum)
	return buf
}
