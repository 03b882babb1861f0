package dhcp4client

import "net/netip"

// CommandKind selects which user-initiated message a [Command] sends
// (spec.md §4.4.7).
type CommandKind uint8

// Command kinds.
const (
	CommandRelease CommandKind = iota
	CommandDecline
	CommandInform
)

// Command is a user-initiated action sent on [Client.Commands].  Address
// is required for Decline and Inform and ignored for Release; Message is
// an optional human-readable note attached to Release and Decline.
type Command struct {
	Kind    CommandKind
	Address netip.Addr
	Message string
}
