package dhcp4client

import (
	"context"
	"net/netip"
	"sync"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// fakeTransport is a minimal [transport] for tests: it records mode
// switches instead of opening real sockets.
type fakeTransport struct {
	mu          sync.Mutex
	mode        switchsock.Mode
	udpSwitches int
	rawSwitches int
}

func (f *fakeTransport) Mode() switchsock.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mode
}

func (f *fakeTransport) SwitchToUDP(context.Context, netip.Addr, uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mode = switchsock.ModeUDP
	f.udpSwitches++

	return nil
}

func (f *fakeTransport) SwitchToRaw(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mode = switchsock.ModeRaw
	f.rawSwitches++

	return nil
}

// fakeFramer is a minimal [framer] for tests: Send reports every
// message it's asked to send on sentCh, and Recv blocks until a reply
// is pushed onto replies.
type fakeFramer struct {
	sentCh  chan *dhcp4msg.Message
	replies chan *dhcp4msg.Message
}

func newFakeFramer() *fakeFramer {
	return &fakeFramer{
		sentCh:  make(chan *dhcp4msg.Message, 16),
		replies: make(chan *dhcp4msg.Message, 16),
	}
}

func (f *fakeFramer) Send(_ context.Context, _, _ switchsock.Endpoint, msg *dhcp4msg.Message, _ int) error {
	f.sentCh <- msg

	return nil
}

func (f *fakeFramer) Recv(ctx context.Context) (*dhcp4msg.Message, switchsock.Endpoint, error) {
	select {
	case m := <-f.replies:
		return m, switchsock.Endpoint{IP: netip.MustParseAddr("192.0.2.1")}, nil
	case <-ctx.Done():
		return nil, switchsock.Endpoint{}, ctx.Err()
	}
}
