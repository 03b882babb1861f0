package framed

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket is a minimal [socket] implementation for tests: recvQueue
// supplies successive Recv results, and every Send call is appended to
// sent.
type fakeSocket struct {
	mu       sync.Mutex
	recvQueue [][]byte
	recvErr   error
	sent      [][]byte
}

func (f *fakeSocket) Recv(_ context.Context, buf []byte) (n int, src switchsock.Endpoint, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.recvQueue) == 0 {
		return 0, switchsock.Endpoint{}, f.recvErr
	}

	next := f.recvQueue[0]
	f.recvQueue = f.recvQueue[1:]

	return copy(buf, next), switchsock.Endpoint{IP: netip.MustParseAddr("192.0.2.9")}, nil
}

func (f *fakeSocket) Send(_ context.Context, _, _ switchsock.Endpoint, payload []byte) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, append([]byte(nil), payload...))

	return nil
}

func offerBytes(t *testing.T) []byte {
	t.Helper()

	mt := dhcp4msg.MessageTypeOffer
	m := &dhcp4msg.Message{
		Op:    dhcp4msg.BootReply,
		HType: dhcp4msg.HardwareTypeEthernet,
		HLen:  dhcp4msg.EthernetAddrLen,
		Options: dhcp4msg.Options{
			MessageType: &mt,
		},
	}

	data, err := dhcp4msg.Encode(m, 0)
	require.NoError(t, err)

	return data
}

func TestFramed_recvSkipsMalformed(t *testing.T) {
	sock := &fakeSocket{
		recvQueue: [][]byte{
			{0x01, 0x02, 0x03}, // too short to be a valid message
			offerBytes(t),
		},
	}

	f := newFramed(sock, slogutil.NewDiscardLogger())

	msg, _, err := f.Recv(context.Background())
	require.NoError(t, err)
	require.NotNil(t, msg.Options.MessageType)
	assert.Equal(t, dhcp4msg.MessageTypeOffer, *msg.Options.MessageType)
}

func TestFramed_sendSerializes(t *testing.T) {
	sock := &fakeSocket{}
	f := newFramed(sock, slogutil.NewDiscardLogger())

	mt := dhcp4msg.MessageTypeAck
	msg := &dhcp4msg.Message{
		Op:    dhcp4msg.BootReply,
		HType: dhcp4msg.HardwareTypeEthernet,
		HLen:  dhcp4msg.EthernetAddrLen,
		Options: dhcp4msg.Options{
			MessageType: &mt,
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := f.Send(context.Background(), switchsock.Endpoint{}, switchsock.Endpoint{}, msg, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, sock.sent, 4)
}

func TestFramed_sendTooLarge(t *testing.T) {
	sock := &fakeSocket{}
	f := newFramed(sock, slogutil.NewDiscardLogger())
	f.writeBuf = make([]byte, 4)

	mt := dhcp4msg.MessageTypeAck
	msg := &dhcp4msg.Message{
		Options: dhcp4msg.Options{MessageType: &mt},
	}

	err := f.Send(context.Background(), switchsock.Endpoint{}, switchsock.Endpoint{}, msg, 0)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
