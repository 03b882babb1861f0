package dhcp4server

import (
	"context"
	"net"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabase_PersistRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "leases.json")

	conf := &Config{
		ServerIP:          netip.MustParseAddr("192.0.2.1"),
		IfaceName:         "eth0",
		DynamicRangeStart: netip.MustParseAddr("192.0.2.100"),
		DynamicRangeEnd:   netip.MustParseAddr("192.0.2.110"),
		DefaultLease:      time.Hour,
		MinLease:          time.Minute,
		MaxLease:          24 * time.Hour,
		DBFilePath:        dbPath,
		Clock:             fixedClock(testNow),
		Logger:            testLogger,
	}

	db, err := NewDatabase(ctx, conf)
	require.NoError(t, err)

	clientID := []byte("client-a")
	hw := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	offer, err := db.Allocate(ctx, clientID, hw, nil, nil)
	require.NoError(t, err)

	_, err = db.Assign(ctx, clientID, offer.IP, nil, "host-a")
	require.NoError(t, err)

	reloaded, err := NewDatabase(ctx, conf)
	require.NoError(t, err)

	got, err := reloaded.Check(clientID, offer.IP)
	require.NoError(t, err)
	assert.Equal(t, offer.IP, got.IP)
}

func TestDatabase_LoadMissingFileIsNotError(t *testing.T) {
	t.Parallel()

	conf := &Config{
		ServerIP:          netip.MustParseAddr("192.0.2.1"),
		IfaceName:         "eth0",
		DynamicRangeStart: netip.MustParseAddr("192.0.2.100"),
		DynamicRangeEnd:   netip.MustParseAddr("192.0.2.110"),
		DefaultLease:      time.Hour,
		MinLease:          time.Minute,
		MaxLease:          24 * time.Hour,
		DBFilePath:        filepath.Join(t.TempDir(), "does-not-exist.json"),
		Clock:             fixedClock(testNow),
		Logger:            testLogger,
	}

	_, err := NewDatabase(context.Background(), conf)
	require.NoError(t, err)
}
