package dhcp4msg

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
)

// Options is the set of DHCP options this package parses and emits,
// keyed by field rather than by a dynamic map (spec.md §9: "a single
// record with one optional field per recognized tag is simpler ... and
// makes the round-trip property straightforward").
//
// A nil/zero field means the option is absent.  [MessageType] is the only
// option [Validate] requires to be present.
type Options struct {
	SubnetMask            *netip.Addr
	Routers               []netip.Addr
	DomainNameServers     []netip.Addr
	Hostname              string
	StaticRoutes          []StaticRoute
	RequestedIP           *netip.Addr
	AddressLeaseTime      *uint32
	MessageType           *MessageType
	ServerID              *netip.Addr
	ParameterRequestList  []OptionCode
	Message               string
	MaxMessageSize        *uint16
	RenewalTimeT1         *uint32
	RebindingTimeT2       *uint32
	ClientID              []byte
	ClasslessStaticRoutes []ClasslessStaticRoute

	// Unknown preserves tags this package doesn't recognize, keyed by tag,
	// so that a decode-then-encode round trip doesn't silently drop data a
	// caller may want to forward.  See spec.md §9.
	Unknown map[OptionCode][]byte
}

// orderedTags lists every recognized, non-structural tag except
// message-type and server-id, in ascending order.  Encode emits
// message-type and server-id first (per spec.md §4.1), then walks this
// slice.
var orderedTags = []OptionCode{
	OptionSubnetMask,
	OptionRouters,
	OptionDomainNameServers,
	OptionHostname,
	OptionStaticRoutes,
	OptionRequestedIPAddr,
	OptionAddressLeaseTime,
	OptionParameterRequestList,
	OptionMessage,
	OptionMaxMessageSize,
	OptionRenewalTimeT1,
	OptionRebindingTimeT2,
	OptionClientID,
	OptionClasslessStaticRoutes,
}

// appendOption appends one TLV (tag, 1-byte length, value) to buf.
func appendOption(buf []byte, tag OptionCode, value []byte) ([]byte, error) {
	if len(value) > 255 {
		return nil, fmt.Errorf("option %d: value too long (%d bytes): %w", tag, len(value), ErrWireFormat)
	}

	buf = append(buf, byte(tag), byte(len(value)))
	buf = append(buf, value...)

	return buf, nil
}

func putIPv4(addr netip.Addr) []byte {
	a4 := addr.As4()

	return a4[:]
}

func putIPv4s(addrs []netip.Addr) []byte {
	buf := make([]byte, 0, len(addrs)*4)
	for _, a := range addrs {
		buf = append(buf, putIPv4(a)...)
	}

	return buf
}

func putUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)

	return buf
}

func putUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)

	return buf
}

// appendOptions serializes o, in the deterministic order spec.md §4.1
// requires: message-type, then server-identifier, then the remainder in
// ascending tag order, followed by End.  It returns ErrOptionMissing if
// MessageType is unset.
func (o *Options) appendOptions(buf []byte) (_ []byte, err error) {
	if o.MessageType == nil {
		return nil, fmt.Errorf("message type: %w", ErrOptionMissing)
	}

	buf, err = appendOption(buf, OptionMessageType, []byte{byte(*o.MessageType)})
	if err != nil {
		return nil, err
	}

	if o.ServerID != nil {
		buf, err = appendOption(buf, OptionServerID, putIPv4(*o.ServerID))
		if err != nil {
			return nil, err
		}
	}

	for _, tag := range orderedTags {
		buf, err = o.appendTag(buf, tag)
		if err != nil {
			return nil, err
		}
	}

	for _, tag := range sortedUnknownTags(o.Unknown) {
		buf, err = appendOption(buf, tag, o.Unknown[tag])
		if err != nil {
			return nil, err
		}
	}

	buf = append(buf, byte(OptionEnd))

	return buf, nil
}

// appendTag appends the single option named by tag to buf, if o has a
// value for it.  tag must not be MessageType or ServerID; those are
// handled separately by [Options.appendOptions].
func (o *Options) appendTag(buf []byte, tag OptionCode) ([]byte, error) {
	switch tag {
	case OptionSubnetMask:
		if o.SubnetMask == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putIPv4(*o.SubnetMask))
	case OptionRouters:
		if len(o.Routers) == 0 {
			return buf, nil
		}

		return appendOption(buf, tag, putIPv4s(o.Routers))
	case OptionDomainNameServers:
		if len(o.DomainNameServers) == 0 {
			return buf, nil
		}

		return appendOption(buf, tag, putIPv4s(o.DomainNameServers))
	case OptionHostname:
		if o.Hostname == "" {
			return buf, nil
		}

		return appendOption(buf, tag, []byte(o.Hostname))
	case OptionStaticRoutes:
		if len(o.StaticRoutes) == 0 {
			return buf, nil
		}

		val := make([]byte, 0, len(o.StaticRoutes)*8)
		for _, r := range o.StaticRoutes {
			val = append(val, putIPv4(r.Destination)...)
			val = append(val, putIPv4(r.Router)...)
		}

		return appendOption(buf, tag, val)
	case OptionRequestedIPAddr:
		if o.RequestedIP == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putIPv4(*o.RequestedIP))
	case OptionAddressLeaseTime:
		if o.AddressLeaseTime == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putUint32(*o.AddressLeaseTime))
	case OptionParameterRequestList:
		if len(o.ParameterRequestList) == 0 {
			return buf, nil
		}

		val := make([]byte, len(o.ParameterRequestList))
		for i, c := range o.ParameterRequestList {
			val[i] = byte(c)
		}

		return appendOption(buf, tag, val)
	case OptionMessage:
		if o.Message == "" {
			return buf, nil
		}

		return appendOption(buf, tag, []byte(o.Message))
	case OptionMaxMessageSize:
		if o.MaxMessageSize == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putUint16(*o.MaxMessageSize))
	case OptionRenewalTimeT1:
		if o.RenewalTimeT1 == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putUint32(*o.RenewalTimeT1))
	case OptionRebindingTimeT2:
		if o.RebindingTimeT2 == nil {
			return buf, nil
		}

		return appendOption(buf, tag, putUint32(*o.RebindingTimeT2))
	case OptionClientID:
		if len(o.ClientID) == 0 {
			return buf, nil
		}

		return appendOption(buf, tag, o.ClientID)
	case OptionClasslessStaticRoutes:
		if len(o.ClasslessStaticRoutes) == 0 {
			return buf, nil
		}

		return appendOption(buf, tag, encodeClasslessRoutes(o.ClasslessStaticRoutes))
	default:
		return buf, fmt.Errorf("unhandled recognized tag %d", tag)
	}
}

func sortedUnknownTags(m map[OptionCode][]byte) []OptionCode {
	tags := make([]OptionCode, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	return tags
}

func encodeClasslessRoutes(routes []ClasslessStaticRoute) []byte {
	var buf []byte
	for _, r := range routes {
		bits := r.Destination.Bits()
		nSig := (bits + 7) / 8

		dst := r.Destination.Addr().As4()

		buf = append(buf, byte(bits))
		buf = append(buf, dst[:nSig]...)
		buf = append(buf, putIPv4(r.Router)...)
	}

	return buf
}

// rawOption is one decoded (tag, value) pair from the wire, prior to
// field-specific interpretation.
type rawOption struct {
	tag   OptionCode
	value []byte
}

// parseRawOptions walks the TLV list in data (which must begin just past
// the magic cookie) and returns each option in wire order.  It stops at
// [OptionEnd] or at the end of data, whichever comes first; per spec.md
// §3 unknown tags are tolerated.
func parseRawOptions(data []byte) (opts []rawOption, err error) {
	for i := 0; i < len(data); {
		tag := OptionCode(data[i])
		if tag == OptionEnd {
			return opts, nil
		}
		if tag == OptionPad {
			i++

			continue
		}

		if i+1 >= len(data) {
			return nil, fmt.Errorf("option %d: truncated length byte: %w", tag, ErrWireFormat)
		}

		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			return nil, fmt.Errorf("option %d: value runs past end of options: %w", tag, ErrWireFormat)
		}

		opts = append(opts, rawOption{tag: tag, value: data[start:end]})
		i = end
	}

	return opts, nil
}

// parseOptions decodes data (the bytes following the magic cookie) into an
// [Options] value.
func parseOptions(data []byte) (o Options, err error) {
	raws, err := parseRawOptions(data)
	if err != nil {
		return Options{}, err
	}

	for _, r := range raws {
		err = o.setTag(r.tag, r.value)
		if err != nil {
			return Options{}, fmt.Errorf("option %d: %w", r.tag, err)
		}
	}

	return o, nil
}

func parseIPv4(v []byte) (netip.Addr, error) {
	if len(v) != 4 {
		return netip.Addr{}, fmt.Errorf("want 4 bytes, got %d: %w", len(v), ErrWireFormat)
	}

	return netip.AddrFrom4([4]byte(v)), nil
}

func parseIPv4List(v []byte) ([]netip.Addr, error) {
	if len(v) == 0 || len(v)%4 != 0 {
		return nil, fmt.Errorf("want a positive multiple of 4 bytes, got %d: %w", len(v), ErrWireFormat)
	}

	addrs := make([]netip.Addr, 0, len(v)/4)
	for i := 0; i < len(v); i += 4 {
		addrs = append(addrs, netip.AddrFrom4([4]byte(v[i:i+4])))
	}

	return addrs, nil
}

func (o *Options) setTag(tag OptionCode, v []byte) (err error) {
	switch tag {
	case OptionSubnetMask:
		addr, err := parseIPv4(v)
		if err != nil {
			return err
		}
		o.SubnetMask = &addr
	case OptionRouters:
		o.Routers, err = parseIPv4List(v)
	case OptionDomainNameServers:
		o.DomainNameServers, err = parseIPv4List(v)
	case OptionHostname:
		o.Hostname = string(v)
	case OptionStaticRoutes:
		if len(v) == 0 || len(v)%8 != 0 {
			return fmt.Errorf("want a positive multiple of 8 bytes, got %d: %w", len(v), ErrWireFormat)
		}
		for i := 0; i < len(v); i += 8 {
			dst, _ := parseIPv4(v[i : i+4])
			rtr, _ := parseIPv4(v[i+4 : i+8])
			o.StaticRoutes = append(o.StaticRoutes, StaticRoute{Destination: dst, Router: rtr})
		}
	case OptionRequestedIPAddr:
		addr, err := parseIPv4(v)
		if err != nil {
			return err
		}
		o.RequestedIP = &addr
	case OptionAddressLeaseTime:
		t, err := parseUint32(v)
		if err != nil {
			return err
		}
		o.AddressLeaseTime = &t
	case OptionMessageType:
		if len(v) != 1 {
			return fmt.Errorf("want 1 byte, got %d: %w", len(v), ErrWireFormat)
		}
		mt := MessageType(v[0])
		o.MessageType = &mt
	case OptionServerID:
		addr, err := parseIPv4(v)
		if err != nil {
			return err
		}
		o.ServerID = &addr
	case OptionParameterRequestList:
		if len(v) == 0 {
			return fmt.Errorf("empty parameter request list: %w", ErrWireFormat)
		}
		list := make([]OptionCode, len(v))
		for i, b := range v {
			list[i] = OptionCode(b)
		}
		o.ParameterRequestList = list
	case OptionMessage:
		o.Message = string(v)
	case OptionMaxMessageSize:
		if len(v) != 2 {
			return fmt.Errorf("want 2 bytes, got %d: %w", len(v), ErrWireFormat)
		}
		size := binary.BigEndian.Uint16(v)
		o.MaxMessageSize = &size
	case OptionRenewalTimeT1:
		t, err := parseUint32(v)
		if err != nil {
			return err
		}
		o.RenewalTimeT1 = &t
	case OptionRebindingTimeT2:
		t, err := parseUint32(v)
		if err != nil {
			return err
		}
		o.RebindingTimeT2 = &t
	case OptionClientID:
		if len(v) < 2 {
			return fmt.Errorf("want at least 2 bytes, got %d: %w", len(v), ErrWireFormat)
		}
		o.ClientID = append([]byte(nil), v...)
	case OptionClasslessStaticRoutes:
		routes, err := decodeClasslessRoutes(v)
		if err != nil {
			return err
		}
		o.ClasslessStaticRoutes = routes
	default:
		if o.Unknown == nil {
			o.Unknown = map[OptionCode][]byte{}
		}
		o.Unknown[tag] = append([]byte(nil), v...)
	}

	return err
}

func parseUint32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, fmt.Errorf("want 4 bytes, got %d: %w", len(v), ErrWireFormat)
	}

	return binary.BigEndian.Uint32(v), nil
}

func decodeClasslessRoutes(v []byte) (routes []ClasslessStaticRoute, err error) {
	for i := 0; i < len(v); {
		bits := int(v[i])
		if bits > 32 {
			return nil, fmt.Errorf("prefix length %d out of range: %w", bits, ErrWireFormat)
		}
		i++

		nSig := (bits + 7) / 8
		if i+nSig+4 > len(v) {
			return nil, fmt.Errorf("truncated classless route: %w", ErrWireFormat)
		}

		var dst [4]byte
		copy(dst[:], v[i:i+nSig])
		i += nSig

		router, _ := parseIPv4(v[i : i+4])
		i += 4

		routes = append(routes, ClasslessStaticRoute{
			Destination: netip.PrefixFrom(netip.AddrFrom4(dst), bits),
			Router:      router,
		})
	}

	return routes, nil
}
