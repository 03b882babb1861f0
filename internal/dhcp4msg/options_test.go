package dhcp4msg_test

import (
	"net/netip"
	"testing"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_classlessStaticRoutesRoundTrip(t *testing.T) {
	mt := dhcp4msg.MessageTypeAck

	routes := []dhcp4msg.ClasslessStaticRoute{{
		Destination: netip.MustParsePrefix("0.0.0.0/0"),
		Router:      netip.MustParseAddr("192.0.2.1"),
	}, {
		Destination: netip.MustParsePrefix("198.51.100.0/24"),
		Router:      netip.MustParseAddr("192.0.2.2"),
	}, {
		Destination: netip.MustParsePrefix("203.0.113.0/26"),
		Router:      netip.MustParseAddr("192.0.2.3"),
	}}

	m := discoverMsg()
	m.Options.MessageType = &mt
	m.Options.ClasslessStaticRoutes = routes

	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	got, err := dhcp4msg.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, routes, got.Options.ClasslessStaticRoutes)
}

func TestOptions_unknownTagPreserved(t *testing.T) {
	m := discoverMsg()

	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	// Splice an unrecognized option (tag 199) in before the End marker.
	end := len(data) - 1
	require.Equal(t, byte(dhcp4msg.OptionEnd), data[end])

	unknown := []byte{199, 2, 0xaa, 0xbb}
	data = append(data[:end], append(unknown, data[end])...)

	got, err := dhcp4msg.Decode(data)
	require.NoError(t, err)

	require.Contains(t, got.Options.Unknown, dhcp4msg.OptionCode(199))
	assert.Equal(t, []byte{0xaa, 0xbb}, got.Options.Unknown[dhcp4msg.OptionCode(199)])
}

func TestOptions_emptyParameterRequestList(t *testing.T) {
	// An explicit zero-length parameter-request-list is malformed: the
	// option exists to request *something*.
	data := []byte{byte(dhcp4msg.OptionParameterRequestList), 0, byte(dhcp4msg.OptionEnd)}

	_, err := dhcp4msg.Decode(append(minimalHeader(), append(dhcp4msg.Cookie[:], data...)...))
	assert.ErrorIs(t, err, dhcp4msg.ErrWireFormat)
}

func TestOptions_truncatedOption(t *testing.T) {
	data := []byte{byte(dhcp4msg.OptionSubnetMask), 4, 1, 2}

	_, err := dhcp4msg.Decode(append(minimalHeader(), append(dhcp4msg.Cookie[:], data...)...))
	assert.ErrorIs(t, err, dhcp4msg.ErrWireFormat)
}

// minimalHeader returns a zeroed 236-byte BOOTP fixed header, for tests
// that only care about the options area.
func minimalHeader() []byte {
	return make([]byte, 236)
}
