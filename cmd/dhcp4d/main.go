// Command dhcp4d runs the DHCPv4 server described in spec.md §4.5.
package main

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/arp"
	"github.com/netshed/dhcp4/internal/dhcp4server"
	"github.com/spf13/cobra"
)

var flags struct {
	iface        string
	serverIP     string
	staticStart  string
	staticEnd    string
	dynamicStart string
	dynamicEnd   string
	subnetMask   string
	routers      []string
	dns          []string
	dbFile       string
	defaultLease time.Duration
	minLease     time.Duration
	maxLease     time.Duration
	noARP        bool
	verbose      bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dhcp4d",
		Short: "Serve DHCPv4 leases on one interface",
		RunE:  run,
	}

	fs := rootCmd.Flags()
	fs.StringVar(&flags.iface, "iface", "", "interface to listen and inject ARP entries on")
	fs.StringVar(&flags.serverIP, "server-ip", "", "this server's own IPv4 address")
	fs.StringVar(&flags.staticStart, "static-range-start", "", "first address of the static pool")
	fs.StringVar(&flags.staticEnd, "static-range-end", "", "last address of the static pool")
	fs.StringVar(&flags.dynamicStart, "dynamic-range-start", "", "first address of the dynamic pool")
	fs.StringVar(&flags.dynamicEnd, "dynamic-range-end", "", "last address of the dynamic pool")
	fs.StringVar(&flags.subnetMask, "subnet-mask", "", "subnet mask handed out to clients")
	fs.StringSliceVar(&flags.routers, "router", nil, "router addresses handed out to clients")
	fs.StringSliceVar(&flags.dns, "dns", nil, "dns server addresses handed out to clients")
	fs.StringVar(&flags.dbFile, "db-file", "", "path to persist the lease database")
	fs.DurationVar(&flags.defaultLease, "default-lease", time.Hour, "lease time granted when a client requests none")
	fs.DurationVar(&flags.minLease, "min-lease", time.Minute, "minimum lease time honored from a client request")
	fs.DurationVar(&flags.maxLease, "max-lease", 24*time.Hour, "maximum lease time honored from a client request")
	fs.BoolVar(&flags.noARP, "no-arp", false, "disable ARP injection before hardware-unicast replies")
	fs.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	for _, name := range []string{"iface", "server-ip", "dynamic-range-start", "dynamic-range-end"} {
		if err := rootCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) (err error) {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatAdGuardLegacy,
		Level:        level,
		AddTimestamp: true,
	})

	conf, err := buildConfig(logger)
	if err != nil {
		return fmt.Errorf("building config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := dhcp4server.NewDatabase(ctx, conf)
	if err != nil {
		return fmt.Errorf("opening lease database: %w", err)
	}

	srv, err := dhcp4server.NewServer(ctx, conf, db)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger.InfoContext(ctx, "dhcp4d listening", "iface", conf.IfaceName, "server_ip", conf.ServerIP)

	return srv.Run(ctx)
}

func buildConfig(logger *slog.Logger) (conf *dhcp4server.Config, err error) {
	serverIP, err := netip.ParseAddr(flags.serverIP)
	if err != nil {
		return nil, fmt.Errorf("parsing --server-ip: %w", err)
	}

	dynStart, err := netip.ParseAddr(flags.dynamicStart)
	if err != nil {
		return nil, fmt.Errorf("parsing --dynamic-range-start: %w", err)
	}

	dynEnd, err := netip.ParseAddr(flags.dynamicEnd)
	if err != nil {
		return nil, fmt.Errorf("parsing --dynamic-range-end: %w", err)
	}

	conf = &dhcp4server.Config{
		ServerIP:          serverIP,
		IfaceName:         flags.iface,
		DynamicRangeStart: dynStart,
		DynamicRangeEnd:   dynEnd,
		DefaultLease:      flags.defaultLease,
		MinLease:          flags.minLease,
		MaxLease:          flags.maxLease,
		DBFilePath:        flags.dbFile,
		Logger:            logger,
	}

	if flags.staticStart != "" && flags.staticEnd != "" {
		conf.StaticRangeStart, err = netip.ParseAddr(flags.staticStart)
		if err != nil {
			return nil, fmt.Errorf("parsing --static-range-start: %w", err)
		}

		conf.StaticRangeEnd, err = netip.ParseAddr(flags.staticEnd)
		if err != nil {
			return nil, fmt.Errorf("parsing --static-range-end: %w", err)
		}
	}

	if flags.subnetMask != "" {
		mask, parseErr := netip.ParseAddr(flags.subnetMask)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing --subnet-mask: %w", parseErr)
		}
		conf.SubnetMask = &mask
	}

	conf.Routers, err = parseAddrs(flags.routers)
	if err != nil {
		return nil, fmt.Errorf("parsing --router: %w", err)
	}

	conf.DomainNameServers, err = parseAddrs(flags.dns)
	if err != nil {
		return nil, fmt.Errorf("parsing --dns: %w", err)
	}

	if !flags.noARP {
		conf.ARP = arp.New()
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func parseAddrs(raw []string) (addrs []netip.Addr, err error) {
	addrs = make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		a, parseErr := netip.ParseAddr(s)
		if parseErr != nil {
			return nil, parseErr
		}
		addrs = append(addrs, a)
	}

	return addrs, nil
}
