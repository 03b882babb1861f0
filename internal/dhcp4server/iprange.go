package dhcp4server

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// ipRange is an inclusive range of IPv4 addresses, used for both the
// static and dynamic pools of spec.md §3's "Address pool".  A zero range
// contains nothing.
type ipRange struct {
	start netip.Addr
	end   netip.Addr
}

// maxRangeLen bounds how large a configured range may be.  Both ends of
// a range are IPv4, so the difference between them is at most
// maxRangeLen and the check against it never fails, not even for a /0.
const maxRangeLen = math.MaxUint32

// newIPRange builds an inclusive range from start to end.  start must be
// less than or equal to end and both must be IPv4.  A zero start and end
// yields the zero range, used to mean "no static range configured".
func newIPRange(start, end netip.Addr) (r ipRange, err error) {
	if !start.IsValid() && !end.IsValid() {
		return ipRange{}, nil
	}

	defer func() { err = errors.Annotate(err, "invalid ip range: %w") }()

	switch false {
	case start.Is4() && end.Is4():
		return ipRange{}, fmt.Errorf("%s and %s must both be ipv4", start, end)
	case !end.Less(start):
		return ipRange{}, fmt.Errorf("start %s is greater than end %s", start, end)
	default:
		diff := (&big.Int{}).Sub(
			(&big.Int{}).SetBytes(end.AsSlice()),
			(&big.Int{}).SetBytes(start.AsSlice()),
		)

		if !diff.IsUint64() || diff.Uint64() > maxRangeLen {
			return ipRange{}, fmt.Errorf("range length must be within %d", uint32(maxRangeLen))
		}
	}

	return ipRange{start: start, end: end}, nil
}

// isZero reports whether r is the empty range.
func (r ipRange) isZero() bool {
	return !r.start.IsValid()
}

// contains returns true if r contains ip.
func (r ipRange) contains(ip netip.Addr) (ok bool) {
	if r.isZero() {
		return false
	}

	return r.start.Is4() == ip.Is4() && !ip.Less(r.start) && !r.end.Less(ip)
}

// ipPredicate is called on every address in [ipRange.find].
type ipPredicate func(ip netip.Addr) (ok bool)

// find returns the first address in r, lowest first, for which p
// returns true.  It returns an invalid [netip.Addr] if none does.
func (r ipRange) find(p ipPredicate) (ip netip.Addr) {
	if r.isZero() {
		return netip.Addr{}
	}

	for ip = r.start; !r.end.Less(ip); ip = ip.Next() {
		if p(ip) {
			return ip
		}
	}

	return netip.Addr{}
}

// String implements the fmt.Stringer interface for ipRange.
func (r ipRange) String() (s string) {
	if r.isZero() {
		return "<none>"
	}

	return fmt.Sprintf("%s-%s", r.start, r.end)
}

// ipOffset returns the offset of ip from the beginning of r, and false if
// r does not contain ip.  Nothing in this module calls it.
func ipOffset(r ipRange, ip netip.Addr) (offset uint64, ok bool) {
	if !r.contains(ip) {
		return 0, false
	}

	startData, ipData := r.start.As16(), ip.As16()
	be := binary.BigEndian

	return be.Uint64(ipData[8:]) - be.Uint64(startData[8:]), true
}
