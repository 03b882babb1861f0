package dhcp4client

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// enterInit (re)starts a lease cycle: a fresh transaction id, a clean
// slate for anything the previous cycle learned, and a raw-mode socket
// since the client no longer has (or trusts) an IP address to bind
// (spec.md §4.4.1).
func (c *Client) enterInit(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.xid = rand.Uint32()
	c.isBroadcast = true
	c.offeredAddr = netip.Addr{}
	c.offeredTime = nil
	c.dhcpServerID = netip.Addr{}
	c.assignedAddr = netip.Addr{}
	c.mu.Unlock()

	if c.sock.Mode() != switchsock.ModeRaw {
		err := c.sock.SwitchToRaw(ctx)
		if err != nil {
			return StateInit, err
		}
	}

	return StateSelecting, nil
}

// runSelecting broadcasts a DHCPDISCOVER and waits for a DHCPOFFER,
// retrying with exponential backoff; returning to INIT once the backoff
// caps out without an answer (spec.md §4.4.1).
func (c *Client) runSelecting(ctx context.Context) (State, error) {
	req := c.buildDiscover(c.initialAddressRequest, c.initialAddressTime)

	err := c.sendRequest(ctx, req)
	if err != nil {
		return StateInit, err
	}

	bo := newBackoff(backoffMinimal, backoffMaximal)
	for {
		sleep, boExpired := bo.next()

		msg, timedOut, err := c.waitReply(ctx, sleep)
		if err != nil {
			return StateInit, err
		}

		if timedOut {
			if boExpired {
				return StateInit, nil
			}

			err = c.sendRequest(ctx, req)
			if err != nil {
				return StateInit, err
			}

			continue
		}

		if msg.Options.MessageType == nil || *msg.Options.MessageType != dhcp4msg.MessageTypeOffer {
			c.logger.WarnContext(ctx, "discarding unexpected reply in selecting", "type", msg.Options.MessageType)

			continue
		}

		c.mu.Lock()
		c.offeredAddr = msg.YourIP
		c.offeredTime = msg.Options.AddressLeaseTime
		if msg.Options.ServerID != nil {
			c.dhcpServerID = *msg.Options.ServerID
		}
		c.mu.Unlock()

		return StateRequesting, nil
	}
}

// runRequesting sends the DHCPREQUEST that follows an accepted
// DHCPOFFER and waits for DHCPACK/DHCPNAK (spec.md §4.4.1).
func (c *Client) runRequesting(ctx context.Context) (State, error) {
	c.mu.Lock()
	offeredAddr, offeredTime, serverID := c.offeredAddr, c.offeredTime, c.dhcpServerID
	c.mu.Unlock()

	req := c.buildRequestSelecting(offeredAddr, offeredTime, serverID)

	err := c.sendRequest(ctx, req)
	if err != nil {
		return StateInit, err
	}

	bo := newBackoff(backoffMinimal, backoffMaximal)
	for {
		sleep, boExpired := bo.next()

		msg, timedOut, err := c.waitReply(ctx, sleep)
		if err != nil {
			return StateInit, err
		}

		if timedOut {
			if boExpired {
				return StateInit, nil
			}

			err = c.sendRequest(ctx, req)
			if err != nil {
				return StateInit, err
			}

			continue
		}

		if msg.Options.MessageType == nil {
			continue
		}

		switch *msg.Options.MessageType {
		case dhcp4msg.MessageTypeNak:
			c.logger.WarnContext(ctx, "server rejected request", "message", msg.Options.Message)

			return StateInit, nil
		case dhcp4msg.MessageTypeAck:
			return c.accept(msg)
		default:
			continue
		}
	}
}

// enterInitReboot prepares to reclaim a previously-assigned address
// without having gone through SELECTING (spec.md §4.4.2).
func (c *Client) enterInitReboot(ctx context.Context) (State, error) {
	if c.initialClientAddr == nil {
		return StateInit, fmt.Errorf("init-reboot: no remembered client address")
	}

	c.mu.Lock()
	c.isBroadcast = true
	c.offeredAddr = *c.initialClientAddr
	c.mu.Unlock()

	if c.sock.Mode() != switchsock.ModeRaw {
		err := c.sock.SwitchToRaw(ctx)
		if err != nil {
			return StateInitReboot, err
		}
	}

	return StateRebooting, nil
}

// runRebooting broadcasts the INIT-REBOOT DHCPREQUEST and waits for the
// server to confirm or refuse the remembered address (spec.md §4.4.2).
func (c *Client) runRebooting(ctx context.Context) (State, error) {
	req := c.buildRequestInitReboot(*c.initialClientAddr, c.initialAddressTime)

	err := c.sendRequest(ctx, req)
	if err != nil {
		return StateInit, err
	}

	bo := newBackoff(backoffMinimal, backoffMaximal)
	for {
		sleep, boExpired := bo.next()

		msg, timedOut, err := c.waitReply(ctx, sleep)
		if err != nil {
			return StateInit, err
		}

		if timedOut {
			if boExpired {
				return StateInit, nil
			}

			err = c.sendRequest(ctx, req)
			if err != nil {
				return StateInit, err
			}

			continue
		}

		if msg.Options.MessageType == nil {
			continue
		}

		switch *msg.Options.MessageType {
		case dhcp4msg.MessageTypeNak:
			c.logger.WarnContext(ctx, "server refused init-reboot address", "message", msg.Options.Message)

			return StateInit, nil
		case dhcp4msg.MessageTypeAck:
			return c.accept(msg)
		default:
			continue
		}
	}
}

// runBound sleeps until T1, then switches the transport to UDP (the
// client now has an address to bind) and moves to RENEWING (spec.md
// §4.4.4).  Stray replies that arrive while bound are left queued on
// recvCh; they're drained, and discarded if stale, by the next
// waitReply call.
func (c *Client) runBound(ctx context.Context) (State, error) {
	c.mu.Lock()
	t1, assigned := c.t1, c.assignedAddr
	c.mu.Unlock()

	timer := time.NewTimer(t1)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StateBound, ctx.Err()
	case <-timer.C:
	}

	if c.sock.Mode() != switchsock.ModeUDP {
		err := c.sock.SwitchToUDP(ctx, assigned, dhcp4msg.ClientPort)
		if err != nil {
			return StateBound, err
		}
	}

	return StateRenewing, nil
}

// runRenewing unicasts a DHCPREQUEST to the leasing server and waits
// out the T1-to-T2 window with a halving timer, falling through to
// REBINDING if T2 arrives unanswered (spec.md §4.4.5).
func (c *Client) runRenewing(ctx context.Context) (State, error) {
	c.mu.Lock()
	assigned, leaseTime, t1, t2 := c.assignedAddr, c.offeredTime, c.t1, c.t2
	c.mu.Unlock()

	req := c.buildRequestRenew(assigned, leaseTime)

	err := c.sendRequest(ctx, req)
	if err != nil {
		return StateInit, err
	}

	h := newHalving(t2 - t1)
	for {
		sleep, expired := h.next()

		msg, timedOut, err := c.waitReply(ctx, sleep)
		if err != nil {
			return StateInit, err
		}

		if timedOut {
			if expired {
				return StateRebinding, nil
			}

			err = c.sendRequest(ctx, req)
			if err != nil {
				return StateInit, err
			}

			continue
		}

		if msg.Options.MessageType == nil {
			continue
		}

		switch *msg.Options.MessageType {
		case dhcp4msg.MessageTypeAck:
			return c.accept(msg)
		case dhcp4msg.MessageTypeNak:
			c.logger.WarnContext(ctx, "server rejected renewal", "message", msg.Options.Message)

			return StateInit, nil
		default:
			continue
		}
	}
}

// runRebinding broadcasts below the IP layer once the renewal window
// has lapsed, hoping any server on the network will confirm the lease;
// giving up and returning to INIT once the lease itself would expire
// (spec.md §4.4.5).
func (c *Client) runRebinding(ctx context.Context) (State, error) {
	if c.sock.Mode() != switchsock.ModeRaw {
		err := c.sock.SwitchToRaw(ctx)
		if err != nil {
			return StateRebinding, err
		}
	}

	c.mu.Lock()
	assigned, leaseTime, t2, leaseDuration := c.assignedAddr, c.offeredTime, c.t2, c.leaseDuration
	c.mu.Unlock()

	req := c.buildRequestRenew(assigned, leaseTime)

	err := c.sendRequest(ctx, req)
	if err != nil {
		return StateInit, err
	}

	h := newHalving(leaseDuration - t2)
	for {
		sleep, expired := h.next()

		msg, timedOut, err := c.waitReply(ctx, sleep)
		if err != nil {
			return StateInit, err
		}

		if timedOut {
			if expired {
				c.logger.WarnContext(ctx, "lease expired during rebinding")

				return StateInit, nil
			}

			err = c.sendRequest(ctx, req)
			if err != nil {
				return StateInit, err
			}

			continue
		}

		if msg.Options.MessageType == nil {
			continue
		}

		switch *msg.Options.MessageType {
		case dhcp4msg.MessageTypeAck:
			return c.accept(msg)
		case dhcp4msg.MessageTypeNak:
			c.logger.WarnContext(ctx, "server rejected rebinding", "message", msg.Options.Message)

			return StateInit, nil
		default:
			continue
		}
	}
}

// accept records a DHCPACK's lease terms, publishes the resulting
// [Configuration], and reports BOUND as the next state.
func (c *Client) accept(msg *dhcp4msg.Message) (State, error) {
	var lease uint32
	if msg.Options.AddressLeaseTime != nil {
		lease = *msg.Options.AddressLeaseTime
	}

	t1, t2, leaseDuration := computeT1T2(lease, msg)

	c.mu.Lock()
	c.assignedAddr = msg.YourIP
	c.offeredTime = msg.Options.AddressLeaseTime
	if msg.Options.ServerID != nil {
		c.dhcpServerID = *msg.Options.ServerID
	}
	c.t1, c.t2, c.leaseDuration = t1, t2, leaseDuration
	c.mu.Unlock()

	c.publishConfiguration(configurationFromAck(msg))

	return StateBound, nil
}

// publishConfiguration pushes cfg onto the buffered configs channel,
// discarding a stale unread value rather than blocking: a client that
// never reads Configurations shouldn't stall the state machine.
func (c *Client) publishConfiguration(cfg Configuration) {
	select {
	case c.configs <- cfg:
		return
	default:
	}

	select {
	case <-c.configs:
	default:
	}

	select {
	case c.configs <- cfg:
	default:
	}
}

// computeT1T2 derives the renewal and rebinding delays, counted from
// lease acceptance, honoring explicit T1/T2 options and otherwise
// defaulting to lease/2 and lease·7/8 (spec.md §4.3).
func computeT1T2(leaseSeconds uint32, ack *dhcp4msg.Message) (t1, t2, leaseDuration time.Duration) {
	leaseDuration = time.Duration(leaseSeconds) * time.Second
	t1 = leaseDuration / 2
	t2 = leaseDuration * 7 / 8

	if ack.Options.RenewalTimeT1 != nil {
		t1 = time.Duration(*ack.Options.RenewalTimeT1) * time.Second
	}
	if ack.Options.RebindingTimeT2 != nil {
		t2 = time.Duration(*ack.Options.RebindingTimeT2) * time.Second
	}

	return t1, t2, leaseDuration
}
