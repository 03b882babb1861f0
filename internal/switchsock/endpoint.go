package switchsock

import (
	"net"
	"net/netip"
)

// Endpoint names one side of a datagram.  HWAddr is only meaningful while
// the socket is in raw mode; UDP mode fills in only IP and Port.
type Endpoint struct {
	IP     netip.Addr
	Port   uint16
	HWAddr net.HardwareAddr
}

// BroadcastHWAddr is the link-layer broadcast address used to reach a
// client that has no assigned hardware-level route yet.
var BroadcastHWAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
