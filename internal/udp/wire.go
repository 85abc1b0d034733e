package udp

import (
	"encoding/binary"
	"net"
)

const (
	hdrLen           = 8 // src, dst, len, checksum
	protocolUDP uint8 = 17
)

// pseudoChecksum computes the pseudo-header + UDP-segment checksum
// (cksum16(&pseudo) folded into cksum16(hdr, psum)), used both when
// building and validating a segment.
func pseudoChecksum(src, dst net.IP, segment []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], src.To4())
	copy(pseudo[4:8], dst.To4())
	pseudo[8] = 0
	pseudo[9] = protocolUDP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	psum := onesComplementSum(pseudo, 0)
	return checksum16(segment, psum)
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

func checksum16(b []byte, seed uint32) uint16 {
	sum := onesComplementSum(b, seed)
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// buildSegment assembles a full UDP segment (header + payload) with the
// checksum field populated.
func buildSegment(srcPort, dstPort uint16, src, dst net.IP, payload []byte) []byte {
	total := hdrLen + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(total))
	binary.BigEndian.PutUint16(buf[6:8], 0)
	copy(buf[hdrLen:], payload)

	sum := pseudoChecksum(src, dst, buf)
	binary.BigEndian.PutUint16(buf[6:8], sum)
	return buf
}

// parseSegment validates and decodes a UDP segment, returning the header
// fields and payload slice.
func parseSegment(data []byte, src, dst net.IP) (srcPort, dstPort uint16, payload []byte, ok bool) {
	if len(data) < hdrLen {
		return 0, 0, nil, false
	}
	total := binary.BigEndian.Uint16(data[4:6])
	if int(total) != len(data) {
		return 0, 0, nil, false
	}
	if pseudoChecksum(src, dst, data) != 0 {
		return 0, 0, nil, false
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), data[hdrLen:], true
}
