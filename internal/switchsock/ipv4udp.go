package switchsock

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// Errors returned while building or parsing the hand-rolled IPv4+UDP
// datagram that raw mode sends underneath the link layer, since no IP
// stack is bound yet to do it for us (spec.md §4.2).
const (
	ErrShortDatagram errors.Error = "ipv4/udp datagram shorter than header"
	ErrNotIPv4       errors.Error = "not an ipv4 datagram"
	ErrNotUDP        errors.Error = "ipv4 payload is not udp"
	ErrBadChecksum   errors.Error = "ipv4/udp checksum mismatch"
)

const (
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	protoUDP      = 17
	defaultTTL    = 64
)

// buildIPv4UDP assembles one IPv4 datagram carrying a UDP payload, with
// both header checksums filled in.  It has no dependency on any socket:
// raw mode needs it because writing below the link layer bypasses the
// kernel's own IPv4/UDP construction.
func buildIPv4UDP(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	if !src.Is4() || !dst.Is4() {
		return nil, fmt.Errorf("building datagram: %w", ErrNotIPv4)
	}

	udpLen := udpHeaderLen + len(payload)
	totalLen := ipv4HeaderLen + udpLen
	if totalLen > 0xffff {
		return nil, fmt.Errorf("payload of %d bytes is too large for one ipv4 datagram", len(payload))
	}

	buf := make([]byte, totalLen)

	buf[0] = 0x45
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 0)
	binary.BigEndian.PutUint16(buf[6:8], 0)
	buf[8] = defaultTTL
	buf[9] = protoUDP
	binary.BigEndian.PutUint16(buf[10:12], 0)
	srcB := src.As4()
	dstB := dst.As4()
	copy(buf[12:16], srcB[:])
	copy(buf[16:20], dstB[:])

	binary.BigEndian.PutUint16(buf[10:12], ipv4Checksum(buf[:ipv4HeaderLen]))

	udp := buf[ipv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udp[6:8], 0)
	copy(udp[udpHeaderLen:], payload)

	binary.BigEndian.PutUint16(udp[6:8], udpChecksum(src, dst, udp))

	return buf, nil
}

// parsedDatagram is the result of successfully parsing a raw-mode
// IPv4+UDP datagram.
type parsedDatagram struct {
	src, dst         netip.Addr
	srcPort, dstPort uint16
	payload          []byte
}

// parseIPv4UDP validates and decomposes an IPv4 datagram that must carry
// a UDP payload.  It verifies both the IPv4 header checksum and, when the
// sender set one, the UDP checksum.
func parseIPv4UDP(data []byte) (*parsedDatagram, error) {
	if len(data) < ipv4HeaderLen {
		return nil, ErrShortDatagram
	}

	if data[0]>>4 != 4 {
		return nil, ErrNotIPv4
	}

	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(data) < ihl {
		return nil, fmt.Errorf("ihl %d out of range: %w", ihl, ErrShortDatagram)
	}

	if ipv4Checksum(data[:ihl]) != 0 {
		return nil, fmt.Errorf("ipv4 header: %w", ErrBadChecksum)
	}

	if data[9] != protoUDP {
		return nil, ErrNotUDP
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen > len(data) {
		return nil, fmt.Errorf("total length %d exceeds datagram of %d bytes: %w", totalLen, len(data), ErrShortDatagram)
	}

	src := netip.AddrFrom4([4]byte(data[12:16]))
	dst := netip.AddrFrom4([4]byte(data[16:20]))

	udp := data[ihl:totalLen]
	if len(udp) < udpHeaderLen {
		return nil, fmt.Errorf("udp segment: %w", ErrShortDatagram)
	}

	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < udpHeaderLen || udpLen > len(udp) {
		return nil, fmt.Errorf("udp length %d out of range: %w", udpLen, ErrShortDatagram)
	}
	udp = udp[:udpLen]

	if csum := binary.BigEndian.Uint16(udp[6:8]); csum != 0 {
		if udpChecksum(src, dst, udp) != 0 {
			return nil, fmt.Errorf("udp: %w", ErrBadChecksum)
		}
	}

	return &parsedDatagram{
		src:     src,
		dst:     dst,
		srcPort: binary.BigEndian.Uint16(udp[0:2]),
		dstPort: binary.BigEndian.Uint16(udp[2:4]),
		payload: udp[udpHeaderLen:],
	}, nil
}

// ipv4Checksum computes the Internet checksum (RFC 791 §3.1) of header.
// Called on a full header including a zeroed checksum field, it returns
// the value to store there; called on a full header including the real
// checksum, it returns zero iff the header is intact.
func ipv4Checksum(header []byte) uint16 {
	return onesComplementSum(header)
}

// udpChecksum computes the UDP checksum (RFC 768) of udp, which must have
// its own checksum field already either zeroed (to produce a checksum to
// store) or populated (to verify, expecting a zero result).
func udpChecksum(src, dst netip.Addr, udp []byte) uint16 {
	srcB := src.As4()
	dstB := dst.As4()

	pseudo := make([]byte, 0, 12+len(udp)+1)
	pseudo = append(pseudo, srcB[:]...)
	pseudo = append(pseudo, dstB[:]...)
	pseudo = append(pseudo, 0, protoUDP)
	pseudo = binary.BigEndian.AppendUint16(pseudo, uint16(len(udp)))
	pseudo = append(pseudo, udp...)

	return onesComplementSum(pseudo)
}

func onesComplementSum(b []byte) uint16 {
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
