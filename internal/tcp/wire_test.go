package tcp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSegment_ParseHeaderRoundTrip(t *testing.T) {
	local := Endpoint{Addr: net.IPv4(10, 0, 0, 1), Port: 1234}
	foreign := Endpoint{Addr: net.IPv4(10, 0, 0, 2), Port: 80}

	segment := buildSegment(local, foreign, 1000, 2000, FlagACK|FlagPSH, 4096, []byte("payload"))

	h, payload, err := parseHeader(segment, local.Addr, foreign.Addr)
	require.NoError(t, err)
	require.Equal(t, local.Port, h.SrcPort)
	require.Equal(t, foreign.Port, h.DstPort)
	require.Equal(t, uint32(1000), h.Seq)
	require.Equal(t, uint32(2000), h.Ack)
	require.Equal(t, FlagACK|FlagPSH, h.Flags)
	require.Equal(t, uint16(4096), h.Window)
	require.Equal(t, []byte("payload"), payload)
}

func TestParseHeader_RejectsCorruptChecksum(t *testing.T) {
	local := Endpoint{Addr: net.IPv4(10, 0, 0, 1), Port: 1234}
	foreign := Endpoint{Addr: net.IPv4(10, 0, 0, 2), Port: 80}
	segment := buildSegment(local, foreign, 1, 1, FlagSYN, 1024, nil)
	segment[0] ^= 0xff

	_, _, err := parseHeader(segment, local.Addr, foreign.Addr)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestParseHeader_RejectsShortSegment(t *testing.T) {
	_, _, err := parseHeader(make([]byte, 4), net.IPv4(1, 2, 3, 4), net.IPv4(5, 6, 7, 8))
	require.ErrorIs(t, err, ErrShort)
}

func TestFlags_String(t *testing.T) {
	require.Equal(t, "-A--S-", (FlagACK | FlagSYN).String())
	require.Equal(t, "U-PR--", (FlagURG | FlagPSH | FlagRST).String())
}
