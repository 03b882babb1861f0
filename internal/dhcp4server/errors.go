package dhcp4server

import "github.com/AdguardTeam/golibs/errors"

// Lease-database error kinds, per spec.md §7.
const (
	// ErrPoolExhausted is returned by [Database.Allocate] when no free
	// address remains in the dynamic range.
	ErrPoolExhausted errors.Error = "dhcp4server: address pool exhausted"

	// ErrRangeInvalid is reserved for an out-of-range requested-ip; the
	// current [Database.Allocate] policy falls back to the dynamic pool
	// instead of failing, so this is never returned, only documented
	// for spec.md §7's completeness.
	ErrRangeInvalid errors.Error = "dhcp4server: address outside configured range"

	// ErrLeaseInvalid is returned when an operation's precondition
	// about the caller's existing lease doesn't hold.
	ErrLeaseInvalid errors.Error = "dhcp4server: lease invalid for this client/address pair"

	// ErrAddressInUse is returned by [Database.Assign] when the
	// requested address is already held by a different client.
	ErrAddressInUse errors.Error = "dhcp4server: address already in use"

	// ErrNoRecord is returned by [Database.Check] when the server has no
	// lease for the client at all; callers MUST treat this as "stay
	// silent", not as a NAK-worthy failure (spec.md §4.5.1, RFC 2131
	// §4.3.2).
	ErrNoRecord errors.Error = "dhcp4server: no record for this client"
)
