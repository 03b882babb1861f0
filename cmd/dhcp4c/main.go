// Command dhcp4c runs the DHCPv4 client state machine described in
// spec.md §4.4 on one interface, logging every configuration it
// obtains and accepting Release/Decline/Inform commands on stdin.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/dhcp4client"
	"github.com/netshed/dhcp4/internal/switchsock"
	"github.com/spf13/cobra"
)

var flags struct {
	iface               string
	hwAddr              string
	clientID            string
	hostname            string
	clientAddr          string
	requestIP           string
	leaseTime           uint32
	maxMessageSize      uint16
	requestStaticRoutes bool
	verbose             bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dhcp4c",
		Short: "Lease an IPv4 address on one interface",
		RunE:  run,
	}

	fs := rootCmd.Flags()
	fs.StringVar(&flags.iface, "iface", "", "interface to lease an address on")
	fs.StringVar(&flags.hwAddr, "hw-addr", "", "hardware address to send (defaults to the interface's own)")
	fs.StringVar(&flags.clientID, "client-id", "", "client identifier option, hex-encoded (defaults to hardware type + hw-addr)")
	fs.StringVar(&flags.hostname, "hostname", "", "hostname option to send")
	fs.StringVar(&flags.clientAddr, "client-addr", "", "previously assigned address; starts in INIT-REBOOT instead of INIT")
	fs.StringVar(&flags.requestIP, "request-ip", "", "address to suggest in an INIT-state DHCPDISCOVER")
	fs.Uint32Var(&flags.leaseTime, "lease-time", 0, "lease duration to request, in seconds (0 lets the server choose)")
	fs.Uint16Var(&flags.maxMessageSize, "max-message-size", 0, "maximum DHCP message size to advertise (0 omits the option)")
	fs.BoolVar(&flags.requestStaticRoutes, "request-static-routes", false, "ask for static and classless-static routes")
	fs.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	if err := rootCmd.MarkFlagRequired("iface"); err != nil {
		panic(err)
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

	ifi, err := net.InterfaceByName(flags.iface)
	if err != nil {
		return fmt.Errorf("looking up interface: %w", err)
	}

	conf, err := buildConfig(ifi, logger)
	if err != nil {
		return fmt.Errorf("building config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sock, err := switchsock.NewRaw(ifi, logger)
	if err != nil {
		return fmt.Errorf("opening socket: %w", err)
	}
	defer func() { _ = sock.Close() }()

	client, err := dhcp4client.New(sock, *conf)
	if err != nil {
		return fmt.Errorf("constructing client: %w", err)
	}

	go logConfigurations(ctx, logger, client.Configurations())
	go readCommands(ctx, logger, client.Commands())

	return client.Run(ctx)
}

func buildConfig(ifi *net.Interface, logger *slog.Logger) (conf *dhcp4client.Config, err error) {
	hwAddr := ifi.HardwareAddr
	if flags.hwAddr != "" {
		hwAddr, err = net.ParseMAC(flags.hwAddr)
		if err != nil {
			return nil, fmt.Errorf("parsing --hw-addr: %w", err)
		}
	}

	conf = &dhcp4client.Config{
		HWAddr:              hwAddr,
		Hostname:            flags.hostname,
		MaxMessageSize:      flags.maxMessageSize,
		RequestStaticRoutes: flags.requestStaticRoutes,
		Logger:              logger,
	}

	if flags.clientID != "" {
		conf.ClientID, err = hex.DecodeString(flags.clientID)
		if err != nil {
			return nil, fmt.Errorf("parsing --client-id: %w", err)
		}
	}

	if flags.clientAddr != "" {
		addr, parseErr := netip.ParseAddr(flags.clientAddr)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing --client-addr: %w", parseErr)
		}
		conf.ClientAddr = &addr
	}

	if flags.requestIP != "" {
		addr, parseErr := netip.ParseAddr(flags.requestIP)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing --request-ip: %w", parseErr)
		}
		conf.AddressRequest = &addr
	}

	if flags.leaseTime != 0 {
		conf.AddressTime = &flags.leaseTime
	}

	return conf, nil
}

// logConfigurations logs every lease the client obtains until ctx is
// done.
func logConfigurations(ctx context.Context, logger *slog.Logger, configs <-chan dhcp4client.Configuration) {
	for {
		select {
		case <-ctx.Done():
			return
		case conf, ok := <-configs:
			if !ok {
				return
			}

			logger.InfoContext(ctx, "lease obtained",
				"your_ip", conf.YourIPAddress,
				"server_ip", conf.ServerIPAddress,
				"routers", conf.Routers,
				"dns", conf.DomainNameServers,
			)
		}
	}
}

// readCommands turns lines of stdin into [dhcp4client.Command] values:
// "release", "decline <addr>", "inform <addr>".
func readCommands(ctx context.Context, logger *slog.Logger, commands chan<- dhcp4client.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := parseCommand(line)
		if err != nil {
			logger.WarnContext(ctx, "ignoring command", "line", line, slogutil.KeyError, err)

			continue
		}

		select {
		case commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func parseCommand(line string) (cmd dhcp4client.Command, err error) {
	fields := strings.Fields(line)

	switch strings.ToLower(fields[0]) {
	case "release":
		return dhcp4client.Command{Kind: dhcp4client.CommandRelease}, nil
	case "decline":
		if len(fields) < 2 {
			return cmd, fmt.Errorf("decline requires an address")
		}

		addr, parseErr := netip.ParseAddr(fields[1])
		if parseErr != nil {
			return cmd, fmt.Errorf("parsing address: %w", parseErr)
		}

		return dhcp4client.Command{Kind: dhcp4client.CommandDecline, Address: addr}, nil
	case "inform":
		if len(fields) < 2 {
			return cmd, fmt.Errorf("inform requires an address")
		}

		addr, parseErr := netip.ParseAddr(fields[1])
		if parseErr != nil {
			return cmd, fmt.Errorf("parsing address: %w", parseErr)
		}

		return dhcp4client.Command{Kind: dhcp4client.CommandInform, Address: addr}, nil
	default:
		return cmd, fmt.Errorf("unknown command %q", fields[0])
	}
}
