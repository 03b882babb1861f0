package dhcp4msg

import "github.com/AdguardTeam/golibs/errors"

// Error kinds returned by this package.  Callers match them with
// [errors.Is].
const (
	// ErrWireFormat is returned when a byte slice doesn't decode into a
	// well-formed BOOTP/DHCP message.
	ErrWireFormat errors.Error = "malformed dhcp wire format"

	// ErrOptionMissing is returned by [Validate] when a mandatory option
	// is absent, most notably DHCP Message Type.
	ErrOptionMissing errors.Error = "mandatory dhcp option missing"

	// ErrPacketTooBig is returned by [Encode] when the serialized message
	// would exceed the requested maximum size.
	ErrPacketTooBig errors.Error = "encoded dhcp message exceeds max size"
)
