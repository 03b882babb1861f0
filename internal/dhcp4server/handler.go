package dhcp4server

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// ARPInjector is the external collaborator spec.md §6 names: it installs
// or refreshes a static ARP entry mapping hwAddr to ip on ifaceName.
//
// The original interface returns a future-like Handle the caller must
// await before the hardware-unicast reply goes out, since on some
// platforms (Windows netsh) the kernel commits the entry asynchronously.
// Go's blocking I/O absorbs that directly: Add doesn't return until the
// entry has settled, the same collapse [dhcp4client]'s state machine
// applies to the client side's async sub-states.
type ARPInjector interface {
	Add(ctx context.Context, hwAddr net.HardwareAddr, ip netip.Addr, ifaceName string) (err error)
}

// broadcastAddr is 255.255.255.255, the destination for DhcpNak and for
// any reply when the client's broadcast flag is set.
var broadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Handler dispatches incoming requests against a [Database] and builds
// the corresponding reply, per spec.md §4.5.
type Handler struct {
	conf   *Config
	db     *Database
	logger *slog.Logger
}

// NewHandler builds a Handler serving db according to conf.
func NewHandler(conf *Config, db *Database) *Handler {
	return &Handler{conf: conf, db: db, logger: conf.Logger}
}

// Handle dispatches req, received from src, and returns the reply to
// send and the endpoint to send it to.  A nil resp with a nil err means
// the request is to be dropped silently, per spec.md §4.5.1's "log and
// drop"/"remains silent" cases.
func (h *Handler) Handle(
	ctx context.Context,
	req *dhcp4msg.Message,
	src switchsock.Endpoint,
) (resp *dhcp4msg.Message, dst switchsock.Endpoint, err error) {
	if req.Options.MessageType == nil {
		h.logger.DebugContext(ctx, "ignoring request without a message type")

		return nil, switchsock.Endpoint{}, nil
	}

	if srvID := req.Options.ServerID; srvID != nil && *srvID != h.conf.ServerIP {
		h.logger.DebugContext(ctx, "ignoring request for another server", "server_id", *srvID)

		return nil, switchsock.Endpoint{}, nil
	}

	clientID := req.ClientIdentifier()

	switch *req.Options.MessageType {
	case dhcp4msg.MessageTypeDiscover:
		resp = h.handleDiscover(ctx, req, clientID)
	case dhcp4msg.MessageTypeRequest:
		resp = h.handleRequest(ctx, req, clientID)
	case dhcp4msg.MessageTypeDecline:
		h.handleDecline(ctx, req)

		return nil, switchsock.Endpoint{}, nil
	case dhcp4msg.MessageTypeRelease:
		h.handleRelease(ctx, req, clientID)

		return nil, switchsock.Endpoint{}, nil
	case dhcp4msg.MessageTypeInform:
		resp = h.handleInform(req)
	default:
		h.logger.DebugContext(ctx, "ignoring unhandled message type", "type", *req.Options.MessageType)

		return nil, switchsock.Endpoint{}, nil
	}

	if resp == nil {
		return nil, switchsock.Endpoint{}, nil
	}

	dst, err = h.destination(ctx, req, resp)
	if err != nil {
		return nil, switchsock.Endpoint{}, err
	}

	return resp, dst, nil
}

func (h *Handler) handleDiscover(ctx context.Context, req *dhcp4msg.Message, clientID []byte) (resp *dhcp4msg.Message) {
	offer, err := h.db.Allocate(ctx, clientID, req.ClientHWAddr, req.Options.AddressLeaseTime, req.Options.RequestedIP)
	if err != nil {
		h.logger.InfoContext(ctx, "discover: allocation failed", slogutil.KeyError, err)

		return nil
	}

	return h.buildReply(req, dhcp4msg.MessageTypeOffer, &offer)
}

// handleRequest implements spec.md §4.5.1's DhcpRequest sub-dispatch on
// dhcp_server_id and ciaddr.
func (h *Handler) handleRequest(ctx context.Context, req *dhcp4msg.Message, clientID []byte) (resp *dhcp4msg.Message) {
	switch {
	case req.Options.ServerID != nil:
		return h.handleSelecting(ctx, req, clientID)
	case !req.ClientIP.IsValid() || req.ClientIP == netip.IPv4Unspecified():
		return h.handleInitReboot(ctx, req, clientID)
	default:
		return h.handleRenewing(ctx, req, clientID)
	}
}

func (h *Handler) handleSelecting(ctx context.Context, req *dhcp4msg.Message, clientID []byte) (resp *dhcp4msg.Message) {
	reqIP := req.Options.RequestedIP
	if reqIP == nil {
		h.logger.WarnContext(ctx, "selecting request missing requested-ip")

		return h.buildNak(req)
	}

	offer, err := h.db.Assign(ctx, clientID, *reqIP, req.Options.AddressLeaseTime, req.Options.Hostname)
	if err != nil {
		h.logger.InfoContext(ctx, "selecting: assign failed", slogutil.KeyError, err)

		return h.buildNak(req)
	}

	return h.buildReply(req, dhcp4msg.MessageTypeAck, &offer)
}

func (h *Handler) handleInitReboot(ctx context.Context, req *dhcp4msg.Message, clientID []byte) (resp *dhcp4msg.Message) {
	reqIP := req.Options.RequestedIP
	if reqIP == nil {
		h.logger.WarnContext(ctx, "init-reboot request missing requested-ip")

		return nil
	}

	offer, err := h.db.Check(clientID, *reqIP)
	switch {
	case err == nil:
		return h.buildReply(req, dhcp4msg.MessageTypeAck, &offer)
	case errors.Is(err, ErrNoRecord):
		// RFC 2131 §4.3.2: the server with no record for this client
		// stays silent rather than NAKing.
		h.logger.DebugContext(ctx, "init-reboot: no record, staying silent")

		return nil
	default:
		h.logger.InfoContext(ctx, "init-reboot: check failed", slogutil.KeyError, err)

		return h.buildNak(req)
	}
}

func (h *Handler) handleRenewing(ctx context.Context, req *dhcp4msg.Message, clientID []byte) (resp *dhcp4msg.Message) {
	offer, err := h.db.Renew(ctx, clientID, req.ClientIP, req.Options.AddressLeaseTime)
	if err != nil {
		h.logger.InfoContext(ctx, "renew failed, dropping", slogutil.KeyError, err)

		return nil
	}

	return h.buildReply(req, dhcp4msg.MessageTypeAck, &offer)
}

func (h *Handler) handleDecline(ctx context.Context, req *dhcp4msg.Message) {
	reqIP := req.Options.RequestedIP
	if reqIP == nil {
		h.logger.WarnContext(ctx, "decline missing requested-ip")

		return
	}

	err := h.db.Freeze(ctx, *reqIP)
	if err != nil {
		h.logger.WarnContext(ctx, "freezing declined address", slogutil.KeyError, err)
	}
}

func (h *Handler) handleRelease(ctx context.Context, req *dhcp4msg.Message, clientID []byte) {
	err := h.db.Deallocate(ctx, clientID, req.ClientIP)
	if err != nil {
		h.logger.InfoContext(ctx, "release failed", slogutil.KeyError, err)
	}
}

func (h *Handler) handleInform(req *dhcp4msg.Message) (resp *dhcp4msg.Message) {
	resp = h.buildReply(req, dhcp4msg.MessageTypeAck, nil)
	resp.YourIP = netip.IPv4Unspecified()
	resp.Options.AddressLeaseTime = nil
	resp.Options.RenewalTimeT1 = nil
	resp.Options.RebindingTimeT2 = nil

	return resp
}

// buildReply constructs the reply header and option set for msgType, per
// spec.md §4.5.3.  offer is nil for DhcpInform, which carries no lease.
func (h *Handler) buildReply(req *dhcp4msg.Message, msgType dhcp4msg.MessageType, offer *Offer) (resp *dhcp4msg.Message) {
	resp = &dhcp4msg.Message{
		Op:           dhcp4msg.BootReply,
		HType:        req.HType,
		HLen:         req.HLen,
		Xid:          req.Xid,
		Flags:        req.Flags,
		GatewayIP:    req.GatewayIP,
		ClientHWAddr: req.ClientHWAddr,
		ServerIP:     h.conf.ServerIP,
	}

	mt := msgType
	srvID := h.conf.ServerIP
	resp.Options = dhcp4msg.Options{
		MessageType: &mt,
		ServerID:    &srvID,
	}

	if offer != nil {
		resp.YourIP = offer.IP
		leaseSecs := uint32(offer.LeaseTime.Seconds())
		t1Secs := uint32(offer.RenewalTime.Seconds())
		t2Secs := uint32(offer.RebindingTime.Seconds())
		resp.Options.AddressLeaseTime = &leaseSecs
		resp.Options.RenewalTimeT1 = &t1Secs
		resp.Options.RebindingTimeT2 = &t2Secs
	}

	h.applyRequestedOptions(req, &resp.Options)

	return resp
}

// buildNak builds a DhcpNak for req; per spec.md §4.5.4(d), it's always
// broadcast, so it carries no yiaddr and none of the filtered options.
func (h *Handler) buildNak(req *dhcp4msg.Message) (resp *dhcp4msg.Message) {
	mt := dhcp4msg.MessageTypeNak
	srvID := h.conf.ServerIP

	return &dhcp4msg.Message{
		Op:           dhcp4msg.BootReply,
		HType:        req.HType,
		HLen:         req.HLen,
		Xid:          req.Xid,
		Flags:        req.Flags,
		GatewayIP:    req.GatewayIP,
		ClientHWAddr: req.ClientHWAddr,
		Options: dhcp4msg.Options{
			MessageType: &mt,
			ServerID:    &srvID,
		},
	}
}

// applyRequestedOptions fills opts with the configured values the
// client's parameter-request-list asked for; message-type,
// server-identifier and the lease-time/T1/T2 trio are set by the caller
// unconditionally and are not touched here.
func (h *Handler) applyRequestedOptions(req *dhcp4msg.Message, opts *dhcp4msg.Options) {
	want := func(tag dhcp4msg.OptionCode) bool {
		return slices.Contains(req.Options.ParameterRequestList, tag)
	}

	if h.conf.SubnetMask != nil && want(dhcp4msg.OptionSubnetMask) {
		opts.SubnetMask = h.conf.SubnetMask
	}
	if len(h.conf.Routers) > 0 && want(dhcp4msg.OptionRouters) {
		opts.Routers = h.conf.Routers
	}
	if len(h.conf.DomainNameServers) > 0 && want(dhcp4msg.OptionDomainNameServers) {
		opts.DomainNameServers = h.conf.DomainNameServers
	}
	if len(h.conf.StaticRoutes) > 0 && want(dhcp4msg.OptionStaticRoutes) {
		opts.StaticRoutes = h.conf.StaticRoutes
	}
	if len(h.conf.ClasslessStaticRoutes) > 0 && want(dhcp4msg.OptionClasslessStaticRoutes) {
		opts.ClasslessStaticRoutes = h.conf.ClasslessStaticRoutes
	}
}

// destination implements spec.md §4.5.4's selection rules.
func (h *Handler) destination(
	ctx context.Context,
	req *dhcp4msg.Message,
	resp *dhcp4msg.Message,
) (dst switchsock.Endpoint, err error) {
	if *resp.Options.MessageType == dhcp4msg.MessageTypeNak {
		return switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ClientPort}, nil
	}

	switch {
	case req.ClientIP.IsValid() && req.ClientIP != netip.IPv4Unspecified():
		return switchsock.Endpoint{IP: req.ClientIP, Port: dhcp4msg.ClientPort}, nil
	case req.Flags&dhcp4msg.BroadcastFlag != 0:
		return switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ClientPort}, nil
	case h.conf.ARP != nil:
		err = h.conf.ARP.Add(ctx, req.ClientHWAddr, resp.YourIP, h.conf.IfaceName)
		if err != nil {
			return switchsock.Endpoint{}, err
		}

		return switchsock.Endpoint{
			IP:     resp.YourIP,
			Port:   dhcp4msg.ClientPort,
			HWAddr: req.ClientHWAddr,
		}, nil
	default:
		// No ARP collaborator configured: fall back to broadcast rather
		// than risk an undeliverable hardware-unicast.
		return switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ClientPort}, nil
	}
}
