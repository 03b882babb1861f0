package dhcp4server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/framed"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// Server binds a UDP socket on port 67 and serves every well-formed
// request it receives through a [Handler] against a [Database], per
// spec.md §4.5 and the single-task scheduling model of §5.
type Server struct {
	conf    *Config
	handler *Handler
	logger  *slog.Logger

	sock   *switchsock.Socket
	framed *framed.Framed
}

// NewServer opens the listening socket on conf.IfaceName and returns a
// [Server] ready to [Server.Run].
func NewServer(ctx context.Context, conf *Config, db *Database) (srv *Server, err error) {
	defer func() { err = errors.Annotate(err, "starting dhcp server: %w") }()

	ifi, err := net.InterfaceByName(conf.IfaceName)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %s: %w", conf.IfaceName, err)
	}

	sock, err := switchsock.NewRaw(ifi, conf.Logger)
	if err != nil {
		return nil, err
	}

	// The server binds an ordinary UDP socket directly; unlike the
	// client it always has an IP address to bind to and never needs the
	// link-layer path [switchsock] exists for.
	err = sock.SwitchToUDP(ctx, netip.IPv4Unspecified(), dhcp4msg.ServerPort)
	if err != nil {
		_ = sock.Close()

		return nil, err
	}

	return &Server{
		conf:    conf,
		handler: NewHandler(conf, db),
		logger:  conf.Logger,
		sock:    sock,
		framed:  framed.New(sock, conf.Logger),
	}, nil
}

// Run serves requests until ctx is canceled or a fatal transport error
// occurs.
func (srv *Server) Run(ctx context.Context) (err error) {
	defer func() {
		closeErr := srv.sock.Close()
		err = errors.WithDeferred(err, closeErr)
	}()

	srcEndpoint := switchsock.Endpoint{IP: srv.conf.ServerIP, Port: dhcp4msg.ServerPort}

	for {
		msg, src, err := srv.framed.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("receiving request: %w", err)
		}

		srv.serveOne(ctx, msg, src, srcEndpoint)
	}
}

func (srv *Server) serveOne(
	ctx context.Context,
	msg *dhcp4msg.Message,
	src switchsock.Endpoint,
	srcEndpoint switchsock.Endpoint,
) {
	_, err := dhcp4msg.Validate(msg)
	if err != nil {
		srv.logger.DebugContext(ctx, "discarding invalid request", "from", src.IP, slogutil.KeyError, err)

		return
	}

	resp, dst, err := srv.handler.Handle(ctx, msg, src)
	if err != nil {
		srv.logger.WarnContext(ctx, "handling request", "from", src.IP, slogutil.KeyError, err)

		return
	}

	if resp == nil {
		return
	}

	err = srv.framed.Send(ctx, srcEndpoint, dst, resp, dhcp4msg.DefaultMaxSize)
	if err != nil {
		srv.logger.WarnContext(ctx, "sending reply", "to", dst.IP, slogutil.KeyError, err)
	}
}
