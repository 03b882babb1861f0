package dhcp4client

import (
	"net/netip"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
)

// parameterRequestList is requested on every outgoing message; it
// grows to include the two route options when the caller opted in to
// them (spec.md: "Maximum DHCP message size should be increased to
// accommodate them" for request_static_routes — increasing MaxMessageSize
// is the caller's responsibility via Config.MaxMessageSize).
func (c *Client) parameterRequestList() []dhcp4msg.OptionCode {
	list := []dhcp4msg.OptionCode{
		dhcp4msg.OptionSubnetMask,
		dhcp4msg.OptionRouters,
		dhcp4msg.OptionDomainNameServers,
		dhcp4msg.OptionRenewalTimeT1,
		dhcp4msg.OptionRebindingTimeT2,
	}

	if c.requestStaticRoutes {
		list = append(list, dhcp4msg.OptionStaticRoutes, dhcp4msg.OptionClasslessStaticRoutes)
	}

	return list
}

// baseMessage returns a message with the fields every client request
// shares: op, hardware-address fields, xid, broadcast flag and the
// common option set.
func (c *Client) baseMessage(mt dhcp4msg.MessageType) *dhcp4msg.Message {
	var flags uint16
	if c.isBroadcast {
		flags = dhcp4msg.BroadcastFlag
	}

	m := &dhcp4msg.Message{
		Op:           dhcp4msg.BootRequest,
		HType:        dhcp4msg.HardwareTypeEthernet,
		HLen:         dhcp4msg.EthernetAddrLen,
		Xid:          c.xid,
		Flags:        flags,
		ClientHWAddr: c.hwAddr,
		Options: dhcp4msg.Options{
			MessageType: &mt,
			ClientID:    c.clientID,
		},
	}

	if c.hostname != "" {
		m.Options.Hostname = c.hostname
	}
	if c.maxMessageSize > 0 {
		size := c.maxMessageSize
		m.Options.MaxMessageSize = &size
	}

	return m
}

// buildDiscover constructs a DHCPDISCOVER for SELECTING (spec.md §4.4.1).
func (c *Client) buildDiscover(addressRequest *netip.Addr, addressTime *uint32) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeDiscover)
	m.Options.ParameterRequestList = c.parameterRequestList()
	m.Options.RequestedIP = addressRequest
	m.Options.AddressLeaseTime = addressTime

	return m
}

// buildRequestSelecting constructs the DHCPREQUEST that follows an
// accepted DHCPOFFER (spec.md §4.4.1).
func (c *Client) buildRequestSelecting(offeredAddr netip.Addr, offeredTime *uint32, serverID netip.Addr) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeRequest)
	m.Options.ParameterRequestList = c.parameterRequestList()
	m.Options.RequestedIP = &offeredAddr
	m.Options.AddressLeaseTime = offeredTime
	m.Options.ServerID = &serverID

	return m
}

// buildRequestInitReboot constructs the DHCPREQUEST sent from
// INIT-REBOOT/REBOOTING; it must not carry a server-identifier since the
// client doesn't yet know who will answer (spec.md §4.4.2).
func (c *Client) buildRequestInitReboot(addressRequest netip.Addr, addressTime *uint32) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeRequest)
	m.Options.ParameterRequestList = c.parameterRequestList()
	m.Options.RequestedIP = &addressRequest
	m.Options.AddressLeaseTime = addressTime

	return m
}

// buildRequestRenew constructs the unicast/broadcast DHCPREQUEST used by
// both RENEWING and REBINDING: ciaddr carries the address instead of the
// requested-IP option, and no server-identifier is sent (spec.md §4.4.5).
func (c *Client) buildRequestRenew(assignedAddr netip.Addr, addressTime *uint32) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeRequest)
	m.Options.ParameterRequestList = c.parameterRequestList()
	m.ClientIP = assignedAddr
	m.Options.AddressLeaseTime = addressTime

	return m
}

// buildRelease constructs a DHCPRELEASE (spec.md §4.4.7).
func (c *Client) buildRelease(assignedAddr, serverID netip.Addr, message string) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeRelease)
	m.ClientIP = assignedAddr
	m.Options.ServerID = &serverID
	m.Options.Message = message

	return m
}

// buildDecline constructs a DHCPDECLINE for an address the client
// determined (by ARP probe) is already in use (spec.md §4.4.7).
func (c *Client) buildDecline(address, serverID netip.Addr, message string) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeDecline)
	m.Options.RequestedIP = &address
	m.Options.ServerID = &serverID
	m.Options.Message = message

	return m
}

// buildInform constructs a DHCPINFORM for a client that has already
// configured its own address and only wants the rest of the network
// parameters (spec.md §4.4.7).
func (c *Client) buildInform(address netip.Addr) *dhcp4msg.Message {
	m := c.baseMessage(dhcp4msg.MessageTypeInform)
	m.ClientIP = address
	m.Options.ParameterRequestList = c.parameterRequestList()

	return m
}
