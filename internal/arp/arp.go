// Package arp implements [dhcp4server.ARPInjector] by adding a static
// neighbor-table entry through the kernel's netlink interface, the
// collaborator spec.md §4.5.4(c) and §6 require before a hardware-unicast
// reply goes out.
package arp

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// Injector adds static ARP (IPv4 neighbor) entries via netlink.  The
// zero value is ready to use.
type Injector struct{}

// New returns an [Injector].
func New() *Injector {
	return &Injector{}
}

// Add implements the [dhcp4server.ARPInjector] interface: it installs a
// permanent neighbor entry mapping ip to hwAddr on ifaceName.  Unlike the
// Windows `netsh` case spec.md §5 anticipates, the Linux netlink call
// completes synchronously, so there's no separate handle to await.
func (i *Injector) Add(ctx context.Context, hwAddr net.HardwareAddr, ip netip.Addr, ifaceName string) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("looking up interface: %w", err)
	}

	neigh := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		State:        netlink.NUD_PERMANENT,
		Family:       netlink.FAMILY_V4,
		IP:           net.IP(ip.AsSlice()),
		HardwareAddr: hwAddr,
	}

	err = netlink.NeighSet(neigh)
	if err != nil {
		return fmt.Errorf("setting neighbor entry: %w", err)
	}

	return nil
}
