package dhcp4client

import (
	"net/netip"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// broadcastAddr is the IPv4 limited broadcast address.
var broadcastAddr = netip.MustParseAddr("255.255.255.255")

// destination chooses where to send a DHCPDISCOVER/DHCPREQUEST, per
// spec.md §4.4.4: raw mode can't unicast (no IP stack bound yet), so it
// always broadcasts; UDP mode unicasts to a known server, falling back to
// broadcast otherwise.
func (c *Client) destination() switchsock.Endpoint {
	if c.sock.Mode() == switchsock.ModeRaw {
		return switchsock.Endpoint{
			IP:     broadcastAddr,
			Port:   dhcp4msg.ServerPort,
			HWAddr: switchsock.BroadcastHWAddr,
		}
	}

	if c.dhcpServerID.IsValid() {
		return switchsock.Endpoint{IP: c.dhcpServerID, Port: dhcp4msg.ServerPort}
	}

	return switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ServerPort}
}

// sourceEndpoint is the local endpoint raw-mode sends use to build the
// hand-rolled IPv4/UDP header; ciaddr is 0.0.0.0 until the client is
// BOUND, matching the wire convention for an unconfigured client.
func (c *Client) sourceEndpoint() switchsock.Endpoint {
	ip := netip.IPv4Unspecified()
	if c.assignedAddr.IsValid() {
		ip = c.assignedAddr
	}

	return switchsock.Endpoint{IP: ip, Port: dhcp4msg.ClientPort, HWAddr: c.hwAddr}
}
