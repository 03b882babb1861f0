// Package dhcp4msg implements the RFC 2131/2132/3442 BOOTP+DHCP wire format:
// fixed-header encode/decode, the option TLV list, and the validation rules
// a received message must satisfy before a client or server acts on it.
package dhcp4msg

import (
	"net"
	"net/netip"
)

// Message is a decoded RFC 2131 BOOTP/DHCP message.
type Message struct {
	// Op is the message operation code: [BootRequest] or [BootReply].
	Op Op

	// HType is the hardware address type, normally [HardwareTypeEthernet].
	HType HardwareType

	// HLen is the length in bytes of ClientHWAddr that is actually
	// significant; it must be <= 16.
	HLen uint8

	// Hops is incremented by each relay agent that forwards the message.
	Hops uint8

	// Xid is the client-chosen transaction id used to match requests to
	// replies.
	Xid uint32

	// Secs is the number of seconds elapsed since the client began its
	// address acquisition or renewal process.
	Secs uint16

	// Flags holds the BOOTP flags field; only [BroadcastFlag] is defined.
	Flags uint16

	// ClientIP is 'ciaddr': the client's own IP address, filled in by the
	// client only when it can respond to ARP requests with it.
	ClientIP netip.Addr

	// YourIP is 'yiaddr': the address the server is offering or has
	// assigned to the client.
	YourIP netip.Addr

	// ServerIP is 'siaddr': the address of the next server to use in the
	// bootstrap process.
	ServerIP netip.Addr

	// GatewayIP is 'giaddr': filled in by relay agents that forward the
	// message across subnets.
	GatewayIP netip.Addr

	// ClientHWAddr is the client's hardware address; its length is
	// reported by HLen and it must not exceed 16 bytes on the wire.
	ClientHWAddr net.HardwareAddr

	// ServerHostname is an optional null-terminated server host name.
	ServerHostname string

	// BootFilename is an optional null-terminated boot file name.
	BootFilename string

	// Options is the parsed TLV option list.
	Options Options
}

// StaticRoute is one destination/router pair of the legacy Static Routes
// option (tag 33).
//
// See https://datatracker.ietf.org/doc/html/rfc2132#section-5.8.
type StaticRoute struct {
	Destination netip.Addr
	Router      netip.Addr
}

// ClasslessStaticRoute is one destination/router pair of the Classless
// Static Routes option (tag 121).
//
// See https://datatracker.ietf.org/doc/html/rfc3442.
type ClasslessStaticRoute struct {
	Destination netip.Prefix
	Router      netip.Addr
}

// zero4 is the unspecified IPv4 address, used as the default value for
// fixed-header address fields that aren't set.
var zero4 = netip.IPv4Unspecified()

// ClientIdentifier returns the byte-string client identifier for m, as
// defined in spec.md §3: the client_id option verbatim if present, else
// [HType] followed by ClientHWAddr[:HLen], per RFC 2132 §9.14.
func (m *Message) ClientIdentifier() (id []byte) {
	if len(m.Options.ClientID) > 0 {
		return m.Options.ClientID
	}

	hw := m.ClientHWAddr
	if int(m.HLen) < len(hw) {
		hw = hw[:m.HLen]
	}

	id = make([]byte, 0, len(hw)+1)
	id = append(id, byte(m.HType))
	id = append(id, hw...)

	return id
}
