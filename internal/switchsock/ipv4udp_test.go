package switchsock

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseIPv4UDP_roundTrip(t *testing.T) {
	src := netip.MustParseAddr("0.0.0.0")
	dst := netip.MustParseAddr("255.255.255.255")
	payload := []byte("DHCPDISCOVER-payload")

	data, err := buildIPv4UDP(src, dst, 68, 67, payload)
	require.NoError(t, err)

	got, err := parseIPv4UDP(data)
	require.NoError(t, err)

	assert.Equal(t, src, got.src)
	assert.Equal(t, dst, got.dst)
	assert.Equal(t, uint16(68), got.srcPort)
	assert.Equal(t, uint16(67), got.dstPort)
	assert.Equal(t, payload, got.payload)
}

func TestBuildIPv4UDP_rejectsIPv6(t *testing.T) {
	src := netip.MustParseAddr("::1")
	dst := netip.MustParseAddr("255.255.255.255")

	_, err := buildIPv4UDP(src, dst, 68, 67, nil)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestParseIPv4UDP_corruptIPv4Checksum(t *testing.T) {
	data, err := buildIPv4UDP(
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		68, 67, []byte("x"),
	)
	require.NoError(t, err)

	data[1] ^= 0xff

	_, err = parseIPv4UDP(data)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestParseIPv4UDP_corruptUDPChecksum(t *testing.T) {
	data, err := buildIPv4UDP(
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		68, 67, []byte("hello"),
	)
	require.NoError(t, err)

	// Flip a payload bit without touching the IPv4 header, so the IPv4
	// checksum still passes but the UDP checksum must now fail.
	data[len(data)-1] ^= 0xff

	_, err = parseIPv4UDP(data)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestParseIPv4UDP_shortDatagram(t *testing.T) {
	_, err := parseIPv4UDP([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortDatagram)
}

func TestParseIPv4UDP_notUDP(t *testing.T) {
	data, err := buildIPv4UDP(
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		68, 67, nil,
	)
	require.NoError(t, err)

	data[9] = 6 // TCP
	data[10], data[11] = 0, 0
	checksum := ipv4Checksum(data[:ipv4HeaderLen])
	data[10] = byte(checksum >> 8)
	data[11] = byte(checksum)

	_, err = parseIPv4UDP(data)
	assert.ErrorIs(t, err, ErrNotUDP)
}
