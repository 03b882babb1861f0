package dhcp4server

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Database is the server-side lease store of spec.md §4.5.2: a set of
// client-identifier-keyed leases backed by the static and dynamic
// address ranges, with a set of declined (frozen) addresses excluded
// from allocation.
//
// It is safe for concurrent use.
type Database struct {
	mu sync.Mutex

	clock  timeutil.Clock
	logger *slog.Logger

	staticRange  ipRange
	dynamicRange ipRange
	offerGrace   time.Duration

	defaultLease time.Duration
	minLease     time.Duration
	maxLease     time.Duration

	byClient map[string]*Lease
	byAddr   map[netip.Addr]*Lease
	frozen   map[netip.Addr]struct{}

	dbFilePath string
}

// NewDatabase builds an empty [Database] from conf and, if
// conf.DBFilePath is set, loads any leases persisted from a previous run.
func NewDatabase(ctx context.Context, conf *Config) (db *Database, err error) {
	staticRange, err := newIPRange(conf.StaticRangeStart, conf.StaticRangeEnd)
	if err != nil {
		return nil, errors.Annotate(err, "static range: %w")
	}

	dynamicRange, err := newIPRange(conf.DynamicRangeStart, conf.DynamicRangeEnd)
	if err != nil {
		return nil, errors.Annotate(err, "dynamic range: %w")
	}

	db = &Database{
		clock:        conf.clockOrDefault(),
		logger:       conf.Logger,
		staticRange:  staticRange,
		dynamicRange: dynamicRange,
		offerGrace:   conf.offerGraceOrDefault(),
		defaultLease: conf.DefaultLease,
		minLease:     conf.MinLease,
		maxLease:     conf.MaxLease,
		byClient:     map[string]*Lease{},
		byAddr:       map[netip.Addr]*Lease{},
		frozen:       map[netip.Addr]struct{}{},
		dbFilePath:   conf.DBFilePath,
	}

	if db.dbFilePath != "" {
		err = db.load(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "loading lease database: %w")
		}
	}

	return db, nil
}

func clientKey(clientID []byte) string { return string(clientID) }

// resolveLeaseTime clamps requested (or [Database.defaultLease] if nil)
// into [minLease, maxLease].
func (db *Database) resolveLeaseTime(requested *uint32) (d time.Duration) {
	d = db.defaultLease
	if requested != nil {
		d = time.Duration(*requested) * time.Second
	}

	if d < db.minLease {
		d = db.minLease
	}
	if d > db.maxLease {
		d = db.maxLease
	}

	return d
}

// addrFree reports whether ip is neither frozen, nor held by a live
// lease.  A stale Offered lease past its grace period, or an Assigned
// lease past its expiration, counts as free — this is the reclamation
// spec.md §3 and §8 require, made lazy rather than run on a timer.
func (db *Database) addrFree(ip netip.Addr) (ok bool) {
	if _, isFrozen := db.frozen[ip]; isFrozen {
		return false
	}

	l, ok := db.byAddr[ip]
	if !ok {
		return true
	}

	now := db.clock.Now()

	switch l.State {
	case stateOffered:
		return now.Sub(l.OfferedAt) > db.offerGrace
	case stateAssigned:
		return !now.Before(l.Expiry)
	default:
		return false
	}
}

// forget removes a stale lease l found free by [Database.addrFree] from
// both indexes, so a subsequent allocation doesn't keep tripping over it.
func (db *Database) forget(l *Lease) {
	delete(db.byClient, clientKey(l.ClientID))
	delete(db.byAddr, l.IP)
}

// nextFreeDynamic returns the lowest free address in the dynamic range.
func (db *Database) nextFreeDynamic() (ip netip.Addr, ok bool) {
	ip = db.dynamicRange.find(db.addrFree)

	return ip, ip.IsValid()
}

// Allocate implements spec.md §4.5.2's allocate: reuse an existing
// lease for clientID, else the requested address if free and in range,
// else the next free dynamic address.
func (db *Database) Allocate(
	ctx context.Context,
	clientID []byte,
	hwAddr net.HardwareAddr,
	requestedTime *uint32,
	requestedIP *netip.Addr,
) (offer Offer, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := clientKey(clientID)
	leaseTime := db.resolveLeaseTime(requestedTime)
	now := db.clock.Now()

	if existing, has := db.byClient[key]; has {
		existing.LeaseTime = leaseTime
		existing.RenewalTime = leaseTime / 2
		existing.RebindingTime = leaseTime * 7 / 8
		existing.OfferedAt = now
		existing.Expiry = now.Add(leaseTime)
		existing.State = stateOffered

		db.logChange(ctx, "re-offering existing lease", existing)

		return offerFor(existing), nil
	}

	var ip netip.Addr
	if requestedIP != nil {
		inRange := db.staticRange.contains(*requestedIP) || db.dynamicRange.contains(*requestedIP)
		if inRange && db.addrFree(*requestedIP) {
			if stale, has := db.byAddr[*requestedIP]; has {
				db.forget(stale)
			}

			ip = *requestedIP
		}
	}

	if !ip.IsValid() {
		var has bool
		ip, has = db.nextFreeDynamic()
		if !has {
			return Offer{}, ErrPoolExhausted
		}
	}

	l := &Lease{
		ClientID:      append([]byte(nil), clientID...),
		IP:            ip,
		HWAddr:        append(net.HardwareAddr(nil), hwAddr...),
		LeaseTime:     leaseTime,
		RenewalTime:   leaseTime / 2,
		RebindingTime: leaseTime * 7 / 8,
		OfferedAt:     now,
		Expiry:        now.Add(leaseTime),
		State:         stateOffered,
	}

	db.byClient[key] = l
	db.byAddr[ip] = l

	db.logChange(ctx, "offered new lease", l)

	return offerFor(l), nil
}

// Assign implements spec.md §4.5.2's assign: addr must be the address
// most recently offered (or already held) by clientID.
func (db *Database) Assign(
	ctx context.Context,
	clientID []byte,
	addr netip.Addr,
	requestedTime *uint32,
	hostname string,
) (offer Offer, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := clientKey(clientID)

	l, has := db.byClient[key]
	if !has || l.IP != addr {
		return Offer{}, ErrLeaseInvalid
	}

	if other, has := db.byAddr[addr]; has && other != l {
		return Offer{}, ErrAddressInUse
	}

	leaseTime := db.resolveLeaseTime(requestedTime)
	now := db.clock.Now()

	l.LeaseTime = leaseTime
	l.RenewalTime = leaseTime / 2
	l.RebindingTime = leaseTime * 7 / 8
	l.Expiry = now.Add(leaseTime)
	l.State = stateAssigned
	if hostname != "" {
		l.Hostname = hostname
	}

	err = db.store(ctx)
	if err != nil {
		db.logger.WarnContext(ctx, "persisting lease database", slogutil.KeyError, err)
	}

	db.logChange(ctx, "committed lease", l)

	return offerFor(l), nil
}

// Check implements spec.md §4.5.2's check: clientID must have previously
// held addr; the lease is returned unmodified ("no extension").
func (db *Database) Check(clientID []byte, addr netip.Addr) (offer Offer, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	l, has := db.byClient[clientKey(clientID)]
	if !has {
		return Offer{}, ErrNoRecord
	}

	if l.IP != addr {
		return Offer{}, ErrLeaseInvalid
	}

	return offerFor(l), nil
}

// Renew implements spec.md §4.5.2's renew: extends an existing
// clientID@addr lease's expiration.
func (db *Database) Renew(
	ctx context.Context,
	clientID []byte,
	addr netip.Addr,
	requestedTime *uint32,
) (offer Offer, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	l, has := db.byClient[clientKey(clientID)]
	if !has || l.IP != addr {
		return Offer{}, ErrLeaseInvalid
	}

	leaseTime := db.resolveLeaseTime(requestedTime)
	now := db.clock.Now()

	l.LeaseTime = leaseTime
	l.RenewalTime = leaseTime / 2
	l.RebindingTime = leaseTime * 7 / 8
	l.Expiry = now.Add(leaseTime)
	l.State = stateAssigned

	err = db.store(ctx)
	if err != nil {
		db.logger.WarnContext(ctx, "persisting lease database", slogutil.KeyError, err)
	}

	db.logChange(ctx, "renewed lease", l)

	return offerFor(l), nil
}

// Freeze implements spec.md §4.5.2's freeze: addr is marked unavailable
// for allocation and any lease holding it is dropped.  Unlike the other
// operations, freeze takes no client identifier: the address itself is
// what's reported unusable.
func (db *Database) Freeze(ctx context.Context, addr netip.Addr) (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if l, has := db.byAddr[addr]; has {
		db.forget(l)
	}

	db.frozen[addr] = struct{}{}

	db.logger.WarnContext(ctx, "address frozen", "ip", addr)

	err = db.store(ctx)
	if err != nil {
		db.logger.WarnContext(ctx, "persisting lease database", slogutil.KeyError, err)
	}

	return nil
}

// Deallocate implements spec.md §4.5.2's deallocate: clientID must hold
// addr; the lease is removed outright.
func (db *Database) Deallocate(ctx context.Context, clientID []byte, addr netip.Addr) (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := clientKey(clientID)

	l, has := db.byClient[key]
	if !has || l.IP != addr {
		return ErrLeaseInvalid
	}

	db.forget(l)

	err = db.store(ctx)
	if err != nil {
		db.logger.WarnContext(ctx, "persisting lease database", slogutil.KeyError, err)
	}

	db.logger.InfoContext(ctx, "lease released", "ip", addr)

	return nil
}

func (db *Database) logChange(ctx context.Context, msg string, l *Lease) {
	db.logger.InfoContext(ctx, msg, "ip", l.IP, "lease", l.LeaseTime, "client", clientKey(l.ClientID))
}
