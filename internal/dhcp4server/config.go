package dhcp4server

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
)

// Config configures a [Handler] and the [Database] it owns.
type Config struct {
	// ServerIP is the server's own IPv4 address, sent as option 54 and
	// compared against an incoming request's dhcp_server_id (spec.md
	// §4.5.1 step 1).
	ServerIP netip.Addr

	// IfaceName is the network interface the server listens and injects
	// ARP entries on.
	IfaceName string

	// StaticRangeStart and StaticRangeEnd bound the static address
	// range; used only when a client's requested-IP option falls within
	// it (spec.md §4.5.2's allocation policy).  Both zero disables the
	// static range.
	StaticRangeStart netip.Addr
	StaticRangeEnd   netip.Addr

	// DynamicRangeStart and DynamicRangeEnd bound the pool scanned
	// lowest-first for a free address when no requested-IP applies.
	DynamicRangeStart netip.Addr
	DynamicRangeEnd   netip.Addr

	// SubnetMask, Routers, DomainNameServers, StaticRoutes and
	// ClasslessStaticRoutes are mirrored verbatim into every outgoing
	// option set that the requesting client's parameter-request-list
	// asks for (spec.md §4.5.3).
	SubnetMask            *netip.Addr
	Routers               []netip.Addr
	DomainNameServers     []netip.Addr
	StaticRoutes          []dhcp4msg.StaticRoute
	ClasslessStaticRoutes []dhcp4msg.ClasslessStaticRoute

	// DefaultLease is handed out when a client doesn't request a lease
	// time.  MinLease and MaxLease clamp both the default and any
	// client-requested value (spec.md §4.5.2).
	DefaultLease time.Duration
	MinLease     time.Duration
	MaxLease     time.Duration

	// OfferGrace bounds how long an Offered-but-unconfirmed lease holds
	// its address before it's reclaimable (spec.md §3: "≥ 60 s").
	OfferGrace time.Duration

	// DBFilePath is where the lease database is persisted between runs.
	// Empty disables persistence.
	DBFilePath string

	// ARP is the collaborator used to inject a static ARP entry before a
	// hardware-unicast reply (spec.md §4.5.4(c), §6).  It may be nil, in
	// which case hardware-unicast replies are broadcast instead.
	ARP ARPInjector

	// Clock supplies "now" for lease expiration and offer-grace
	// checks.  Defaults to [timeutil.SystemClock] when nil.
	Clock timeutil.Clock

	// Logger receives one line per dispatched request and per lease
	// lifecycle event.  It must not be nil.
	Logger *slog.Logger
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("logger", conf.Logger),
		validate.NotEmpty("iface_name", conf.IfaceName),
		validate.Positive("default_lease", conf.DefaultLease),
		validate.Positive("min_lease", conf.MinLease),
		validate.Positive("max_lease", conf.MaxLease),
		validate.NotNegative("offer_grace", conf.OfferGrace),
	}

	if !conf.ServerIP.Is4() {
		errs = append(errs, errors.Error("server_ip: must be a valid ipv4 address"))
	}

	if conf.MinLease > conf.MaxLease {
		errs = append(errs, errors.Error("min_lease: must not exceed max_lease"))
	}

	if !conf.DynamicRangeStart.IsValid() || !conf.DynamicRangeEnd.IsValid() {
		errs = append(errs, errors.Error("dynamic_range: must be set"))
	}

	return errors.Join(errs...)
}

// defaultOfferGrace is used when [Config.OfferGrace] is zero.
const defaultOfferGrace = 60 * time.Second

// clockOrDefault returns conf.Clock, or [timeutil.SystemClock] if unset.
func (conf *Config) clockOrDefault() timeutil.Clock {
	if conf.Clock != nil {
		return conf.Clock
	}

	return timeutil.SystemClock{}
}

// offerGraceOrDefault returns conf.OfferGrace, or [defaultOfferGrace] if
// unset.
func (conf *Config) offerGraceOrDefault() time.Duration {
	if conf.OfferGrace > 0 {
		return conf.OfferGrace
	}

	return defaultOfferGrace
}
