package dhcp4msg

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// Encode serializes m into wire bytes.  If maxSize is positive and the
// serialized message would exceed it, Encode returns [ErrPacketTooBig]
// instead of silently truncating the options area (spec.md §4.1).
//
// Encode requires m.Options.MessageType to be set; it returns
// [ErrOptionMissing] otherwise.
func Encode(m *Message, maxSize int) (out []byte, err error) {
	if m.HLen > chaddrLen {
		return nil, fmt.Errorf("hlen %d exceeds %d: %w", m.HLen, chaddrLen, ErrWireFormat)
	}

	buf := make([]byte, 0, headerLen+4+64)

	buf = append(buf, byte(m.Op), byte(m.HType), m.HLen, m.Hops)
	buf = binary.BigEndian.AppendUint32(buf, m.Xid)
	buf = binary.BigEndian.AppendUint16(buf, m.Secs)
	buf = binary.BigEndian.AppendUint16(buf, m.Flags)

	buf = append(buf, putIPv4(orZero(m.ClientIP))...)
	buf = append(buf, putIPv4(orZero(m.YourIP))...)
	buf = append(buf, putIPv4(orZero(m.ServerIP))...)
	buf = append(buf, putIPv4(orZero(m.GatewayIP))...)

	var chaddr [chaddrLen]byte
	copy(chaddr[:], m.ClientHWAddr)
	buf = append(buf, chaddr[:]...)

	buf = appendPaddedString(buf, m.ServerHostname, snameLen)
	buf = appendPaddedString(buf, m.BootFilename, fileLen)

	buf = append(buf, Cookie[:]...)

	buf, err = m.Options.appendOptions(buf)
	if err != nil {
		return nil, fmt.Errorf("encoding options: %w", err)
	}

	if maxSize > 0 && len(buf) > maxSize {
		return nil, fmt.Errorf("%d bytes exceeds max size %d: %w", len(buf), maxSize, ErrPacketTooBig)
	}

	return buf, nil
}

func orZero(a netip.Addr) netip.Addr {
	if !a.IsValid() {
		return zero4
	}

	return a
}

func appendPaddedString(buf []byte, s string, n int) []byte {
	var field [128]byte
	copy(field[:n], s)

	return append(buf, field[:n]...)
}

// Decode parses data as a BOOTP/DHCP message.  It returns [ErrWireFormat]
// if data is too short, the magic cookie doesn't match, or any option TLV
// is malformed.  Decode does not itself enforce the semantic rules
// [Validate] does.
func Decode(data []byte) (m *Message, err error) {
	if len(data) < headerLen+len(Cookie) {
		return nil, fmt.Errorf("message is %d bytes, want at least %d: %w", len(data), headerLen+len(Cookie), ErrWireFormat)
	}

	m = &Message{}

	m.Op = Op(data[0])
	m.HType = HardwareType(data[1])
	m.HLen = data[2]
	m.Hops = data[3]
	m.Xid = binary.BigEndian.Uint32(data[4:8])
	m.Secs = binary.BigEndian.Uint16(data[8:10])
	m.Flags = binary.BigEndian.Uint16(data[10:12])

	m.ClientIP = netip.AddrFrom4([4]byte(data[12:16]))
	m.YourIP = netip.AddrFrom4([4]byte(data[16:20]))
	m.ServerIP = netip.AddrFrom4([4]byte(data[20:24]))
	m.GatewayIP = netip.AddrFrom4([4]byte(data[24:28]))

	chaddrStart := 28
	hlen := int(m.HLen)
	if hlen > chaddrLen {
		hlen = chaddrLen
	}
	m.ClientHWAddr = append(net.HardwareAddr(nil), data[chaddrStart:chaddrStart+hlen]...)

	snameStart := chaddrStart + chaddrLen
	m.ServerHostname = trimNulString(data[snameStart : snameStart+snameLen])

	fileStart := snameStart + snameLen
	m.BootFilename = trimNulString(data[fileStart : fileStart+fileLen])

	cookieStart := fileStart + fileLen
	if [4]byte(data[cookieStart:cookieStart+4]) != Cookie {
		return nil, fmt.Errorf("bad magic cookie: %w", ErrWireFormat)
	}

	optStart := cookieStart + 4
	m.Options, err = parseOptions(data[optStart:])
	if err != nil {
		return nil, err
	}

	return m, nil
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}

// Validate checks the semantic rules a message must satisfy before a
// client or server acts on it (spec.md §4.1): a recognized, present
// message type, and a legal hardware-address type/length pairing for
// Ethernet.  It returns the message type for the caller's convenience.
func Validate(m *Message) (mt MessageType, err error) {
	if m.Options.MessageType == nil {
		return 0, fmt.Errorf("validating message: %w", ErrOptionMissing)
	}

	mt = *m.Options.MessageType
	if !mt.IsValid() {
		return 0, fmt.Errorf("message type %d out of range: %w", mt, ErrWireFormat)
	}

	if m.HType == HardwareTypeEthernet && m.HLen != EthernetAddrLen {
		return 0, fmt.Errorf("ethernet hlen must be %d, got %d: %w", EthernetAddrLen, m.HLen, ErrWireFormat)
	}

	return mt, nil
}
