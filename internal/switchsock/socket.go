// Package switchsock implements the mode-switchable transport of spec.md's
// C2: a socket that begins in [ModeRaw] — an AF_PACKET link-layer socket,
// since the client has no IP address to bind yet — and switches in place
// to [ModeUDP], an ordinary broadcast-capable UDP socket, once the client
// acquires one.  Both modes are served behind the same [Socket] so callers
// never have to special-case which one is active beyond reading its
// [Socket.Mode].
package switchsock

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/raw"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Socket is a mode-switchable DHCPv4 transport.  It is not safe for
// concurrent use by multiple goroutines calling Send or Recv at the same
// time as each other, but SwitchToUDP may run concurrently with neither.
type Socket struct {
	logger *slog.Logger
	ifi    *net.Interface
	srcHW  net.HardwareAddr

	mu      sync.Mutex
	mode    Mode
	rawConn *raw.Conn
	udpConn *ipv4.PacketConn
}

// NewRaw opens s in [ModeRaw] on ifi, binding an AF_PACKET socket filtered
// to IPv4 ethertype frames.  ifi must be up and have a hardware address.
func NewRaw(ifi *net.Interface, logger *slog.Logger) (s *Socket, err error) {
	conn, err := raw.ListenPacket(ifi, uint16(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return nil, fmt.Errorf("opening raw socket on %s: %w", ifi.Name, err)
	}

	return &Socket{
		logger:  logger,
		ifi:     ifi,
		srcHW:   ifi.HardwareAddr,
		mode:    ModeRaw,
		rawConn: conn,
	}, nil
}

// Mode reports the socket's current transport.
func (s *Socket) Mode() (m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// SwitchToUDP closes the raw socket, if open, and rebinds s to an
// ordinary UDP socket on bindAddr:port with SO_BROADCAST set, per
// spec.md §4.2's "switch in place" requirement.  Any packets racing with
// the switch on the old transport are dropped, not delivered.
func (s *Socket) SwitchToUDP(ctx context.Context, bindAddr netip.Addr, port uint16) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rawConn != nil {
		err = s.rawConn.Close()
		if err != nil {
			s.logger.WarnContext(ctx, "closing raw socket during switch", slogutil.KeyError, err)
		}
		s.rawConn = nil
	}

	addr := &net.UDPAddr{IP: bindAddr.AsSlice(), Port: int(port)}

	pc, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("switching to udp on %s: %w", addr, err)
	}

	err = setBroadcast(pc)
	if err != nil {
		_ = pc.Close()

		return fmt.Errorf("enabling broadcast: %w", err)
	}

	s.udpConn = ipv4.NewPacketConn(pc)
	s.mode = ModeUDP

	s.logger.InfoContext(ctx, "switched transport", "mode", s.mode, "local_addr", addr)

	return nil
}

// SwitchToRaw closes the UDP socket, if open, and rebinds s to a raw
// AF_PACKET socket on its interface.  Used by REBINDING (spec.md §4.4.5),
// which must broadcast below the IP layer once it suspects its lease has
// lapsed.
func (s *Socket) SwitchToRaw(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.udpConn != nil {
		err = s.udpConn.Close()
		if err != nil {
			s.logger.WarnContext(ctx, "closing udp socket during switch", slogutil.KeyError, err)
		}
		s.udpConn = nil
	}

	conn, err := raw.ListenPacket(s.ifi, uint16(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return fmt.Errorf("switching to raw on %s: %w", s.ifi.Name, err)
	}

	s.rawConn = conn
	s.mode = ModeRaw

	s.logger.InfoContext(ctx, "switched transport", "mode", s.mode, "iface", s.ifi.Name)

	return nil
}

func setBroadcast(pc *net.UDPConn) (err error) {
	sc, err := pc.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}

// Send transmits payload from src to dst.  In [ModeRaw], dst.HWAddr
// selects the Ethernet destination ([BroadcastHWAddr] if the client
// hasn't been resolved at the link layer yet) and src.IP/dst.IP are
// encoded into a hand-built IPv4/UDP datagram; in [ModeUDP] only
// dst.IP/dst.Port are used and the kernel builds the datagram.
func (s *Socket) Send(ctx context.Context, src, dst Endpoint, payload []byte) (err error) {
	s.mu.Lock()
	mode, rawConn, udpConn := s.mode, s.rawConn, s.udpConn
	s.mu.Unlock()

	err = applyDeadline(ctx, rawConn, udpConn)
	if err != nil {
		return err
	}

	switch mode {
	case ModeRaw:
		return s.sendRaw(rawConn, src, dst, payload)
	case ModeUDP:
		return s.sendUDP(udpConn, dst, payload)
	default:
		return fmt.Errorf("send: %w", ErrClosed)
	}
}

func (s *Socket) sendRaw(conn *raw.Conn, src, dst Endpoint, payload []byte) (err error) {
	if conn == nil {
		return fmt.Errorf("raw send: %w", ErrClosed)
	}

	datagram, err := buildIPv4UDP(src.IP, dst.IP, src.Port, dst.Port, payload)
	if err != nil {
		return fmt.Errorf("building datagram: %w", err)
	}

	destHW := dst.HWAddr
	if len(destHW) == 0 {
		destHW = BroadcastHWAddr
	}

	frame := &ethernet.Frame{
		Destination: destHW,
		Source:      s.srcHW,
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     datagram,
	}

	framed, err := frame.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling ethernet frame: %w", err)
	}

	_, err = conn.WriteTo(framed, &raw.Addr{HardwareAddr: destHW})
	if err != nil {
		return fmt.Errorf("writing raw frame: %w", err)
	}

	return nil
}

func (s *Socket) sendUDP(conn *ipv4.PacketConn, dst Endpoint, payload []byte) (err error) {
	if conn == nil {
		return fmt.Errorf("udp send: %w", ErrClosed)
	}

	addr := &net.UDPAddr{IP: dst.IP.AsSlice(), Port: int(dst.Port)}

	_, err = conn.WriteTo(payload, nil, addr)
	if err != nil {
		return fmt.Errorf("writing udp datagram to %s: %w", addr, err)
	}

	return nil
}

// Recv reads one datagram into buf and reports its originating endpoint.
// buf should be sized generously (spec.md recommends 8KiB+) since a frame
// larger than buf is truncated by the kernel, not rejected.
func (s *Socket) Recv(ctx context.Context, buf []byte) (n int, src Endpoint, err error) {
	s.mu.Lock()
	mode, rawConn, udpConn := s.mode, s.rawConn, s.udpConn
	s.mu.Unlock()

	err = applyDeadline(ctx, rawConn, udpConn)
	if err != nil {
		return 0, Endpoint{}, err
	}

	switch mode {
	case ModeRaw:
		return s.recvRaw(rawConn, buf)
	case ModeUDP:
		return s.recvUDP(udpConn, buf)
	default:
		return 0, Endpoint{}, fmt.Errorf("recv: %w", ErrClosed)
	}
}

func (s *Socket) recvRaw(conn *raw.Conn, buf []byte) (n int, src Endpoint, err error) {
	if conn == nil {
		return 0, Endpoint{}, fmt.Errorf("raw recv: %w", ErrClosed)
	}

	frameBuf := make([]byte, 65535)
	rn, _, err := conn.ReadFrom(frameBuf)
	if err != nil {
		return 0, Endpoint{}, fmt.Errorf("reading raw frame: %w", err)
	}

	var frame ethernet.Frame
	err = frame.UnmarshalBinary(frameBuf[:rn])
	if err != nil {
		return 0, Endpoint{}, fmt.Errorf("unmarshaling ethernet frame: %w", err)
	}

	if frame.EtherType != ethernet.EtherTypeIPv4 {
		return 0, Endpoint{}, fmt.Errorf("non-ipv4 ethertype %#04x: %w", uint16(frame.EtherType), ErrWrongMode)
	}

	dg, err := parseIPv4UDP(frame.Payload)
	if err != nil {
		return 0, Endpoint{}, fmt.Errorf("parsing datagram: %w", err)
	}

	n = copy(buf, dg.payload)

	return n, Endpoint{IP: dg.src, Port: dg.srcPort, HWAddr: frame.Source}, nil
}

func (s *Socket) recvUDP(conn *ipv4.PacketConn, buf []byte) (n int, src Endpoint, err error) {
	if conn == nil {
		return 0, Endpoint{}, fmt.Errorf("udp recv: %w", ErrClosed)
	}

	n, _, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return 0, Endpoint{}, fmt.Errorf("reading udp datagram: %w", err)
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, Endpoint{}, fmt.Errorf("unexpected source address type %T", addr)
	}

	ip, ok := netip.AddrFromSlice(udpAddr.IP.To4())
	if !ok {
		return 0, Endpoint{}, fmt.Errorf("source address %s is not ipv4", udpAddr.IP)
	}

	return n, Endpoint{IP: ip, Port: uint16(udpAddr.Port)}, nil
}

func applyDeadline(ctx context.Context, rawConn *raw.Conn, udpConn *ipv4.PacketConn) (err error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}

	switch {
	case rawConn != nil:
		return rawConn.SetDeadline(deadline)
	case udpConn != nil:
		return udpConn.SetDeadline(deadline)
	default:
		return nil
	}
}

// Close shuts down whichever transport is currently active.
func (s *Socket) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if s.rawConn != nil {
		errs = append(errs, s.rawConn.Close())
		s.rawConn = nil
	}
	if s.udpConn != nil {
		errs = append(errs, s.udpConn.Close())
		s.udpConn = nil
	}

	return errors.Join(errs...)
}
