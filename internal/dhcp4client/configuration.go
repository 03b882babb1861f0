package dhcp4client

import (
	"net/netip"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
)

// Configuration is the network configuration a successful DHCPACK hands
// up to the consumer of [Client.Configurations].
type Configuration struct {
	YourIPAddress         netip.Addr
	ServerIPAddress       netip.Addr
	SubnetMask            *netip.Addr
	Routers               []netip.Addr
	DomainNameServers     []netip.Addr
	StaticRoutes          []dhcp4msg.StaticRoute
	ClasslessStaticRoutes []dhcp4msg.ClasslessStaticRoute
}

// configurationFromAck builds a Configuration from an accepted DHCPACK,
// applying the RFC 3442 override: a Classless Static Routes option, if
// present, makes the client ignore both Router and Static Routes.
func configurationFromAck(ack *dhcp4msg.Message) Configuration {
	opts := ack.Options

	routers := opts.Routers
	staticRoutes := opts.StaticRoutes
	if len(opts.ClasslessStaticRoutes) > 0 {
		routers = nil
		staticRoutes = nil
	}

	return Configuration{
		YourIPAddress:         ack.YourIP,
		ServerIPAddress:       ack.ServerIP,
		SubnetMask:            opts.SubnetMask,
		Routers:               routers,
		DomainNameServers:     opts.DomainNameServers,
		StaticRoutes:          staticRoutes,
		ClasslessStaticRoutes: opts.ClasslessStaticRoutes,
	}
}
