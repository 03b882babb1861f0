package dhcp4server

import (
	"net"
	"net/netip"
	"time"
)

// leaseState is a lease's position in the lifecycle spec.md §3
// describes: Offered at DHCPDISCOVER, Assigned at DHCPREQUEST, destroyed
// (removed from the database) at DHCPRELEASE or reclamation.  Frozen
// addresses aren't leases at all — they're tracked separately in
// [Database.frozen] since spec.md's freeze(addr) takes no client
// identifier.
type leaseState uint8

const (
	stateOffered leaseState = iota
	stateAssigned
)

// Lease is a server-side DHCP lease record (spec.md §3).
type Lease struct {
	// ClientID is the DB key: either the client_id option verbatim or
	// hardware-type-plus-address, per RFC 2132 §9.14.
	ClientID []byte

	// IP is the address leased to ClientID.
	IP netip.Addr

	// HWAddr is the client's hardware address, recorded for ARP
	// injection on the hardware-unicast reply path.
	HWAddr net.HardwareAddr

	// Hostname is the client's self-reported hostname (option 12), if
	// any.
	Hostname string

	// LeaseTime, RenewalTime and RebindingTime are the lease, T1 and T2
	// durations most recently granted — carried on the record so Check
	// can report them back without recomputing or extending them (spec.md
	// §4.5.2: "check ... return Ack (no extension)").
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration

	// Expiry is when an Assigned lease stops being valid.  An Offered
	// lease also carries an Expiry one lease time ahead, but whether the
	// offer still holds its address is decided by OfferedAt and the
	// configured grace period instead.
	Expiry time.Time

	// OfferedAt records when an Offered lease was created, so a stale,
	// never-confirmed offer can be reclaimed after the configured grace
	// period.
	OfferedAt time.Time

	// State is the lease's lifecycle position.
	State leaseState
}

// Offer is what every successful [Database] operation reports back to
// the caller for inclusion in a DHCPOFFER/DHCPACK (spec.md §4.5.2).
type Offer struct {
	IP            netip.Addr
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration
}

func offerFor(l *Lease) Offer {
	return Offer{
		IP:            l.IP,
		LeaseTime:     l.LeaseTime,
		RenewalTime:   l.RenewalTime,
		RebindingTime: l.RebindingTime,
	}
}
