package dhcp4msg_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addrComparer lets cmp.Diff compare netip.Addr by value instead of
// panicking on its unexported fields.
var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

// testHWAddr is a representative Ethernet hardware address.
var testHWAddr = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

func discoverMsg() *dhcp4msg.Message {
	mt := dhcp4msg.MessageTypeDiscover

	return &dhcp4msg.Message{
		Op:           dhcp4msg.BootRequest,
		HType:        dhcp4msg.HardwareTypeEthernet,
		HLen:         dhcp4msg.EthernetAddrLen,
		Xid:          0xdeadbeef,
		Flags:        dhcp4msg.BroadcastFlag,
		ClientHWAddr: testHWAddr,
		Options: dhcp4msg.Options{
			MessageType:          &mt,
			ParameterRequestList: []dhcp4msg.OptionCode{dhcp4msg.OptionSubnetMask, dhcp4msg.OptionRouters},
		},
	}
}

func TestEncode_decodeRoundTrip(t *testing.T) {
	subnet := netip.MustParseAddr("255.255.255.0")
	router := netip.MustParseAddr("192.0.2.1")
	leaseTime := uint32(3600)

	m := discoverMsg()
	m.Options.SubnetMask = &subnet
	m.Options.Routers = []netip.Addr{router}
	m.Options.AddressLeaseTime = &leaseTime
	m.Options.Hostname = "client-1"

	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	got, err := dhcp4msg.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.Op, got.Op)
	assert.Equal(t, m.HType, got.HType)
	assert.Equal(t, m.HLen, got.HLen)
	assert.Equal(t, m.Xid, got.Xid)
	assert.Equal(t, m.Flags, got.Flags)
	assert.Equal(t, m.ClientHWAddr, got.ClientHWAddr)

	if diff := cmp.Diff(m.Options, got.Options, addrComparer); diff != "" {
		t.Errorf("options mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestEncode_optionOrder(t *testing.T) {
	serverID := netip.MustParseAddr("192.0.2.53")
	subnet := netip.MustParseAddr("255.255.255.0")
	mt := dhcp4msg.MessageTypeAck

	m := discoverMsg()
	m.Options = dhcp4msg.Options{
		MessageType:  &mt,
		ServerID:     &serverID,
		SubnetMask:   &subnet,
		AddressLeaseTime: func() *uint32 { v := uint32(60); return &v }(),
	}

	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	// Options begin right after the 236-byte fixed header and 4-byte magic
	// cookie.  Message-type then server-id must be the first two options on
	// the wire, per spec.md §4.1's deterministic ordering rule.
	opts := data[240:]
	require.GreaterOrEqual(t, len(opts), 9)
	assert.Equal(t, byte(dhcp4msg.OptionMessageType), opts[0])
	assert.Equal(t, byte(dhcp4msg.OptionServerID), opts[3])
}

func TestEncode_maxSize(t *testing.T) {
	m := discoverMsg()

	_, err := dhcp4msg.Encode(m, 50)
	assert.ErrorIs(t, err, dhcp4msg.ErrPacketTooBig)
}

func TestEncode_missingMessageType(t *testing.T) {
	m := discoverMsg()
	m.Options.MessageType = nil

	_, err := dhcp4msg.Encode(m, 0)
	assert.ErrorIs(t, err, dhcp4msg.ErrOptionMissing)
}

func TestDecode_shortMessage(t *testing.T) {
	_, err := dhcp4msg.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, dhcp4msg.ErrWireFormat)
}

func TestDecode_badCookie(t *testing.T) {
	m := discoverMsg()
	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	// Corrupt the magic cookie, which sits immediately before the options
	// area.
	data[236] ^= 0xff

	_, err = dhcp4msg.Decode(data)
	assert.ErrorIs(t, err, dhcp4msg.ErrWireFormat)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(m *dhcp4msg.Message)
		wantErr error
	}{{
		name:    "valid",
		mutate:  func(*dhcp4msg.Message) {},
		wantErr: nil,
	}, {
		name: "missing_message_type",
		mutate: func(m *dhcp4msg.Message) {
			m.Options.MessageType = nil
		},
		wantErr: dhcp4msg.ErrOptionMissing,
	}, {
		name: "bad_message_type",
		mutate: func(m *dhcp4msg.Message) {
			mt := dhcp4msg.MessageType(0xff)
			m.Options.MessageType = &mt
		},
		wantErr: dhcp4msg.ErrWireFormat,
	}, {
		name: "bad_ethernet_hlen",
		mutate: func(m *dhcp4msg.Message) {
			m.HLen = 4
		},
		wantErr: dhcp4msg.ErrWireFormat,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := discoverMsg()
			tc.mutate(m)

			_, err := dhcp4msg.Validate(m)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestMessage_ClientIdentifier(t *testing.T) {
	m := discoverMsg()

	wantHW := append([]byte{byte(dhcp4msg.HardwareTypeEthernet)}, testHWAddr...)
	assert.Equal(t, wantHW, m.ClientIdentifier())

	m.Options.ClientID = []byte{0x01, 0xaa, 0xbb}
	assert.Equal(t, m.Options.ClientID, m.ClientIdentifier())
}
