package dhcp4server

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIPRange(t *testing.T) {
	t.Parallel()

	start := netip.MustParseAddr("192.0.2.10")
	end := netip.MustParseAddr("192.0.2.20")

	testCases := []struct {
		name       string
		start, end netip.Addr
		wantErr    bool
	}{{
		name:  "valid",
		start: start,
		end:   end,
	}, {
		name:  "single_address",
		start: start,
		end:   start,
	}, {
		name:  "zero",
		start: netip.Addr{},
		end:   netip.Addr{},
	}, {
		name:    "reversed",
		start:   end,
		end:     start,
		wantErr: true,
	}, {
		name:    "not_ipv4",
		start:   netip.MustParseAddr("2001:db8::1"),
		end:     netip.MustParseAddr("2001:db8::2"),
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := newIPRange(tc.start, tc.end)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.start, r.start)
			assert.Equal(t, tc.end, r.end)
		})
	}
}

func TestIPRange_contains(t *testing.T) {
	t.Parallel()

	r, err := newIPRange(netip.MustParseAddr("192.0.2.10"), netip.MustParseAddr("192.0.2.20"))
	require.NoError(t, err)

	assert.True(t, r.contains(netip.MustParseAddr("192.0.2.10")))
	assert.True(t, r.contains(netip.MustParseAddr("192.0.2.15")))
	assert.True(t, r.contains(netip.MustParseAddr("192.0.2.20")))
	assert.False(t, r.contains(netip.MustParseAddr("192.0.2.9")))
	assert.False(t, r.contains(netip.MustParseAddr("192.0.2.21")))

	assert.False(t, ipRange{}.contains(netip.MustParseAddr("192.0.2.10")))
}

func TestIPRange_find(t *testing.T) {
	t.Parallel()

	r, err := newIPRange(netip.MustParseAddr("192.0.2.10"), netip.MustParseAddr("192.0.2.20"))
	require.NoError(t, err)

	taken := netip.MustParseAddr("192.0.2.10")
	free := r.find(func(ip netip.Addr) bool { return ip != taken })
	assert.Equal(t, netip.MustParseAddr("192.0.2.11"), free)

	none := r.find(func(netip.Addr) bool { return false })
	assert.False(t, none.IsValid())
}
