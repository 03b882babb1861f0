package switchsock

import "github.com/AdguardTeam/golibs/errors"

// Errors returned by [Socket] methods, distinct from the wire-level
// errors in ipv4udp.go.
const (
	// ErrClosed is returned by Send/Recv after Close.
	ErrClosed errors.Error = "switchsock: socket is closed"

	// ErrWrongMode is returned by Recv in [ModeRaw] when a received frame
	// does not carry the IPv4 ethertype.
	ErrWrongMode errors.Error = "switchsock: operation not valid in current mode"
)
