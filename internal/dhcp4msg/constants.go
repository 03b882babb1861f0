package dhcp4msg

// Op is the BOOTP operation code (fixed header byte 0).
type Op uint8

// BOOTP operation codes.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-2.
const (
	BootRequest Op = 1
	BootReply   Op = 2
)

// HardwareType is the ARP hardware type (fixed header byte 1).
//
// See https://www.iana.org/assignments/arp-parameters/arp-parameters.xhtml.
type HardwareType uint8

// HardwareTypeEthernet is the 10Mb Ethernet hardware type, the only one this
// package fully validates.
const HardwareTypeEthernet HardwareType = 1

// EthernetAddrLen is the length in bytes of an Ethernet hardware address.
const EthernetAddrLen = 6

// MessageType is the value of the DHCP Message Type option (tag 53).
//
// See https://datatracker.ietf.org/doc/html/rfc2132#section-9.6.
type MessageType uint8

// DHCP message types.
const (
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeDecline  MessageType = 4
	MessageTypeAck      MessageType = 5
	MessageTypeNak      MessageType = 6
	MessageTypeRelease  MessageType = 7
	MessageTypeInform   MessageType = 8
)

// String implements the fmt.Stringer interface for MessageType.
func (t MessageType) String() (s string) {
	switch t {
	case MessageTypeDiscover:
		return "DHCPDISCOVER"
	case MessageTypeOffer:
		return "DHCPOFFER"
	case MessageTypeRequest:
		return "DHCPREQUEST"
	case MessageTypeDecline:
		return "DHCPDECLINE"
	case MessageTypeAck:
		return "DHCPACK"
	case MessageTypeNak:
		return "DHCPNAK"
	case MessageTypeRelease:
		return "DHCPRELEASE"
	case MessageTypeInform:
		return "DHCPINFORM"
	default:
		return "DHCPUNKNOWN"
	}
}

// IsValid reports whether t is one of the eight message types this package
// knows about.
func (t MessageType) IsValid() (ok bool) {
	return t >= MessageTypeDiscover && t <= MessageTypeInform
}

// OptionCode is a DHCP/BOOTP option tag.
//
// See https://datatracker.ietf.org/doc/html/rfc2132.
type OptionCode uint8

// Option tags recognized by this package (spec.md §3's option set), plus the
// two structural tags Pad and End.
const (
	OptionPad                   OptionCode = 0
	OptionSubnetMask            OptionCode = 1
	OptionRouters               OptionCode = 3
	OptionDomainNameServers     OptionCode = 6
	OptionHostname              OptionCode = 12
	OptionStaticRoutes          OptionCode = 33
	OptionRequestedIPAddr       OptionCode = 50
	OptionAddressLeaseTime      OptionCode = 51
	OptionMessageType           OptionCode = 53
	OptionServerID              OptionCode = 54
	OptionParameterRequestList  OptionCode = 55
	OptionMessage               OptionCode = 56
	OptionMaxMessageSize        OptionCode = 57
	OptionRenewalTimeT1         OptionCode = 58
	OptionRebindingTimeT2       OptionCode = 59
	OptionClientID              OptionCode = 61
	OptionClasslessStaticRoutes OptionCode = 121
	OptionEnd                   OptionCode = 255
)

// Cookie is the four-byte DHCP magic cookie that begins the options area.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-3.
var Cookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// DHCPv4 well-known UDP ports.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.1.
const (
	ServerPort = 67
	ClientPort = 68
)

// Fixed-header field sizes (§3).
const (
	chaddrLen = 16
	snameLen  = 64
	fileLen   = 128

	// headerLen is the length of the BOOTP fixed header, not including the
	// magic cookie or options.
	headerLen = 1 + 1 + 1 + 1 + // op, htype, hlen, hops
		4 + 2 + 2 + // xid, secs, flags
		4 + 4 + 4 + 4 + // ciaddr, yiaddr, siaddr, giaddr
		chaddrLen + snameLen + fileLen

	// DefaultMaxSize is the default maximum datagram size of spec.md §3.
	// [Encode] does not apply it on its own: callers that want it pass it
	// as maxSize, and a maxSize of 0 leaves the message unbounded.
	DefaultMaxSize = 576
)

// BroadcastFlag is the single bit of the BOOTP flags field that DHCP defines.
//
// See https://datatracker.ietf.org/doc/html/rfc2131#section-2.
const BroadcastFlag uint16 = 0x8000
