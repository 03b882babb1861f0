package dhcp4client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/framed"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// ErrNoServer is returned by [Client] command handling when a Release or
// Decline is requested but the client never recorded a server identifier
// to address it to.
const ErrNoServer errors.Error = "dhcp4client: no known dhcp server to address the command to"

// Config configures a new [Client].
type Config struct {
	// HWAddr is the client's hardware address.  It must not be nil.
	HWAddr net.HardwareAddr

	// ClientID is the client identifier option to send; if nil, it
	// defaults to hardware type + HWAddr (RFC 2132 §9.14).
	ClientID []byte

	// Hostname is sent as option 12, if non-empty.
	Hostname string

	// ClientAddr, if set, starts the client in INIT-REBOOT instead of
	// INIT, requesting this previously-assigned address.
	ClientAddr *netip.Addr

	// AddressRequest optionally suggests an address to an INIT-state
	// DHCPDISCOVER.
	AddressRequest *netip.Addr

	// AddressTime optionally suggests a lease duration, in seconds.
	AddressTime *uint32

	// MaxMessageSize is sent as option 57, if non-zero.
	MaxMessageSize uint16

	// RequestStaticRoutes adds the static- and classless-static-routes
	// tags to the parameter request list.
	RequestStaticRoutes bool

	// Logger receives one line per state transition and per reply that
	// fails validation; replies with another transaction id, and most
	// replies of an unexpected type, are discarded without a line.  It
	// must not be nil.
	Logger *slog.Logger
}

// transport is the subset of [switchsock.Socket] the state machine
// drives directly (mode switching); tests substitute a fake to exercise
// state transitions without a real link.
type transport interface {
	Mode() switchsock.Mode
	SwitchToUDP(ctx context.Context, bindAddr netip.Addr, port uint16) (err error)
	SwitchToRaw(ctx context.Context) (err error)
}

// framer is the subset of [framed.Framed] the state machine uses to
// exchange messages; tests substitute a fake to drive replies directly.
type framer interface {
	Recv(ctx context.Context) (msg *dhcp4msg.Message, src switchsock.Endpoint, err error)
	Send(ctx context.Context, src, dst switchsock.Endpoint, msg *dhcp4msg.Message, maxSize int) (err error)
}

// Client drives the RFC 2131 client state machine over sock.  Call Run in
// its own goroutine and read [Client.Configurations] for successful
// leases; send to [Client.Commands] to Release, Decline or Inform.
type Client struct {
	logger *slog.Logger
	sock   transport
	framed framer

	hwAddr              net.HardwareAddr
	clientID            []byte
	hostname            string
	maxMessageSize      uint16
	requestStaticRoutes bool

	initialClientAddr     *netip.Addr
	initialAddressRequest *netip.Addr
	initialAddressTime    *uint32

	mu           sync.Mutex
	state        State
	xid          uint32
	isBroadcast  bool
	offeredAddr  netip.Addr
	offeredTime  *uint32
	dhcpServerID  netip.Addr
	assignedAddr  netip.Addr
	t1, t2        time.Duration
	leaseDuration time.Duration

	recvCh   chan recvResult
	commands chan Command
	configs  chan Configuration
}

// New constructs a [Client] around sock, which must already be in
// [switchsock.ModeRaw].
func New(sock *switchsock.Socket, conf Config) (c *Client, err error) {
	err = validate.NotNilInterface("logger", conf.Logger)
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if len(conf.HWAddr) == 0 {
		return nil, fmt.Errorf("validating config: hw_addr must not be empty")
	}

	clientID := conf.ClientID
	if len(clientID) == 0 {
		clientID = append([]byte{byte(dhcp4msg.HardwareTypeEthernet)}, conf.HWAddr...)
	}

	state := StateInit
	if conf.ClientAddr != nil {
		state = StateInitReboot
	}

	return &Client{
		logger:                conf.Logger,
		sock:                  sock,
		framed:                framed.New(sock, conf.Logger),
		hwAddr:                conf.HWAddr,
		clientID:              clientID,
		hostname:              conf.Hostname,
		maxMessageSize:        conf.MaxMessageSize,
		requestStaticRoutes:   conf.RequestStaticRoutes,
		initialClientAddr:     conf.ClientAddr,
		initialAddressRequest: conf.AddressRequest,
		initialAddressTime:    conf.AddressTime,
		state:                 state,
		xid:                   rand.Uint32(),
		recvCh:                make(chan recvResult),
		commands:              make(chan Command),
		configs:               make(chan Configuration, 1),
	}, nil
}

// Configurations reports the leases the client obtains.  The channel
// holds one value: if it is still unread when the next lease arrives, the
// older value is dropped.  The channel is never closed by Client; callers
// stop reading it when Run returns.
func (c *Client) Configurations() <-chan Configuration {
	return c.configs
}

// Commands accepts user-initiated Release/Decline/Inform requests.
func (c *Client) Commands() chan<- Command {
	return c.commands
}

// recvResult is one outcome of the background read loop.
type recvResult struct {
	msg *dhcp4msg.Message
	src switchsock.Endpoint
	err error
}

// Run drives the state machine until ctx is canceled or the transport
// fails unrecoverably.  It blocks; call it from its own goroutine.
func (c *Client) Run(ctx context.Context) (err error) {
	defer slogutil.RecoverAndLog(ctx, c.logger)

	go c.recvLoop(ctx)
	go c.commandLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, stepErr := c.step(ctx)
		if stepErr != nil {
			return fmt.Errorf("in state %s: %w", c.getState(), stepErr)
		}

		c.setState(next)
	}
}

func (c *Client) getState() (s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s != c.state {
		c.logger.Info("transcending state", "from", c.state, "to", s)
	}
	c.state = s
}

// step executes one state and returns the next one.
func (c *Client) step(ctx context.Context) (next State, err error) {
	switch c.getState() {
	case StateInit:
		return c.enterInit(ctx)
	case StateSelecting:
		return c.runSelecting(ctx)
	case StateRequesting:
		return c.runRequesting(ctx)
	case StateInitReboot:
		return c.enterInitReboot(ctx)
	case StateRebooting:
		return c.runRebooting(ctx)
	case StateBound:
		return c.runBound(ctx)
	case StateRenewing:
		return c.runRenewing(ctx)
	case StateRebinding:
		return c.runRebinding(ctx)
	default:
		return StateInit, fmt.Errorf("unknown state %v", c.getState())
	}
}

// recvLoop is the sole reader of c.framed; it republishes every decoded
// message on c.recvCh.  Receive errors are logged and reading continues,
// except once ctx is done or the socket is closed: that error is
// republished and the loop stops.
func (c *Client) recvLoop(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, c.logger)

	for {
		msg, src, err := c.framed.Recv(ctx)
		if err != nil && ctx.Err() == nil && !errors.Is(err, switchsock.ErrClosed) {
			c.logger.DebugContext(ctx, "skipping receive error", slogutil.KeyError, err)

			continue
		}

		select {
		case c.recvCh <- recvResult{msg: msg, src: src, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

// commandLoop drains c.commands independently of the state machine: a
// Release/Decline/Inform is sent as soon as it's requested, regardless of
// which state the lease machinery is in (spec.md §4.4.7).
func (c *Client) commandLoop(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, c.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			err := c.handleCommand(ctx, cmd)
			if err != nil {
				c.logger.ErrorContext(ctx, "handling command", slogutil.KeyError, err)
			}
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd Command) (err error) {
	c.mu.Lock()
	serverID, assigned, xid, isBroadcast := c.dhcpServerID, c.assignedAddr, c.xid, c.isBroadcast
	c.mu.Unlock()

	var msg *dhcp4msg.Message
	var dst switchsock.Endpoint

	switch cmd.Kind {
	case CommandRelease:
		if !serverID.IsValid() {
			return ErrNoServer
		}

		msg = c.buildRelease(assigned, serverID, cmd.Message)
		msg.Xid = xid
		dst = switchsock.Endpoint{IP: serverID, Port: dhcp4msg.ServerPort}
	case CommandDecline:
		if !serverID.IsValid() {
			return ErrNoServer
		}

		msg = c.buildDecline(cmd.Address, serverID, cmd.Message)
		msg.Xid = xid
		dst = switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ServerPort}
	case CommandInform:
		msg = c.buildInform(cmd.Address)
		msg.Xid = xid
		if msg.Flags == 0 && isBroadcast {
			msg.Flags = dhcp4msg.BroadcastFlag
		}

		if serverID.IsValid() {
			dst = switchsock.Endpoint{IP: serverID, Port: dhcp4msg.ServerPort}
		} else {
			dst = switchsock.Endpoint{IP: broadcastAddr, Port: dhcp4msg.ServerPort}
		}
	default:
		return fmt.Errorf("unknown command kind %d", cmd.Kind)
	}

	return c.framed.Send(ctx, c.sourceEndpoint(), dst, msg, int(c.maxMessageSize))
}

// sendRequest encodes and sends req to the address [Client.destination]
// chooses.
func (c *Client) sendRequest(ctx context.Context, req *dhcp4msg.Message) (err error) {
	dst := c.destination()

	err = c.framed.Send(ctx, c.sourceEndpoint(), dst, req, int(c.maxMessageSize))
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", req.Options.MessageType, dst.IP, err)
	}

	return nil
}

// waitReply blocks until a matching reply arrives, timeout elapses, or
// ctx is done.  A reply is matching when it decodes and its Xid equals
// the client's current one.  Replies with another Xid are skipped
// silently and replies that fail [dhcp4msg.Validate] are logged and
// skipped; neither ends the wait or restarts the timeout.
func (c *Client) waitReply(ctx context.Context, timeout time.Duration) (msg *dhcp4msg.Message, timedOut bool, err error) {
	xid := c.getXid()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, true, nil
		case res := <-c.recvCh:
			if res.err != nil {
				return nil, false, res.err
			}

			if res.msg.Xid != xid {
				continue
			}

			_, valErr := dhcp4msg.Validate(res.msg)
			if valErr != nil {
				c.logger.WarnContext(ctx, "discarding invalid reply", slogutil.KeyError, valErr)

				continue
			}

			return res.msg, false, nil
		}
	}
}

func (c *Client) getXid() (xid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.xid
}
