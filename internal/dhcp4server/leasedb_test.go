package dhcp4server

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slogutil.NewDiscardLogger()

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDatabase(t *testing.T, clock *faketime.Clock) *Database {
	t.Helper()

	dynamicStart := netip.MustParseAddr("192.0.2.100")
	dynamicEnd := netip.MustParseAddr("192.0.2.110")
	staticStart := netip.MustParseAddr("192.0.2.50")
	staticEnd := netip.MustParseAddr("192.0.2.60")

	conf := &Config{
		ServerIP:          netip.MustParseAddr("192.0.2.1"),
		IfaceName:         "eth0",
		StaticRangeStart:  staticStart,
		StaticRangeEnd:    staticEnd,
		DynamicRangeStart: dynamicStart,
		DynamicRangeEnd:   dynamicEnd,
		DefaultLease:      time.Hour,
		MinLease:          time.Minute,
		MaxLease:          24 * time.Hour,
		OfferGrace:        time.Minute,
		Clock:             clock,
		Logger:            testLogger,
	}

	db, err := NewDatabase(context.Background(), conf)
	require.NoError(t, err)

	return db
}

func fixedClock(now time.Time) *faketime.Clock {
	return &faketime.Clock{OnNow: func() time.Time { return now }}
}

func TestDatabase_Allocate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clientA := []byte("client-a")
	hwA := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	t.Run("fresh_dynamic", func(t *testing.T) {
		t.Parallel()

		db := newTestDatabase(t, fixedClock(testNow))

		offer, err := db.Allocate(ctx, clientA, hwA, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("192.0.2.100"), offer.IP)
		assert.Equal(t, time.Hour, offer.LeaseTime)
	})

	t.Run("reuses_existing", func(t *testing.T) {
		t.Parallel()

		db := newTestDatabase(t, fixedClock(testNow))

		first, err := db.Allocate(ctx, clientA, hwA, nil, nil)
		require.NoError(t, err)

		second, err := db.Allocate(ctx, clientA, hwA, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, first.IP, second.IP)
	})

	t.Run("honors_requested_ip_in_range", func(t *testing.T) {
		t.Parallel()

		db := newTestDatabase(t, fixedClock(testNow))

		want := netip.MustParseAddr("192.0.2.55")
		offer, err := db.Allocate(ctx, clientA, hwA, nil, &want)
		require.NoError(t, err)
		assert.Equal(t, want, offer.IP)
	})

	t.Run("ignores_out_of_range_requested_ip", func(t *testing.T) {
		t.Parallel()

		db := newTestDatabase(t, fixedClock(testNow))

		want := netip.MustParseAddr("203.0.113.5")
		offer, err := db.Allocate(ctx, clientA, hwA, nil, &want)
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("192.0.2.100"), offer.IP)
	})

	t.Run("pool_exhausted", func(t *testing.T) {
		t.Parallel()

		db := newTestDatabase(t, fixedClock(testNow))
		db.dynamicRange, _ = newIPRange(
			netip.MustParseAddr("192.0.2.100"),
			netip.MustParseAddr("192.0.2.100"),
		)

		_, err := db.Allocate(ctx, []byte("first"), hwA, nil, nil)
		require.NoError(t, err)

		_, err = db.Allocate(ctx, []byte("second"), hwA, nil, nil)
		assert.ErrorIs(t, err, ErrPoolExhausted)
	})

	t.Run("reclaims_expired_offer", func(t *testing.T) {
		t.Parallel()

		clock := fixedClock(testNow)
		db := newTestDatabase(t, clock)
		db.dynamicRange, _ = newIPRange(
			netip.MustParseAddr("192.0.2.100"),
			netip.MustParseAddr("192.0.2.100"),
		)

		_, err := db.Allocate(ctx, []byte("first"), hwA, nil, nil)
		require.NoError(t, err)

		clock.OnNow = func() time.Time { return testNow.Add(2 * time.Minute) }

		offer, err := db.Allocate(ctx, []byte("second"), hwA, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("192.0.2.100"), offer.IP)
	})
}

func TestDatabase_AssignAndCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clientA := []byte("client-a")
	hwA := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	db := newTestDatabase(t, fixedClock(testNow))

	offer, err := db.Allocate(ctx, clientA, hwA, nil, nil)
	require.NoError(t, err)

	_, err = db.Assign(ctx, clientA, netip.MustParseAddr("192.0.2.101"), nil, "")
	assert.ErrorIs(t, err, ErrLeaseInvalid)

	committed, err := db.Assign(ctx, clientA, offer.IP, nil, "host-a")
	require.NoError(t, err)
	assert.Equal(t, offer.IP, committed.IP)

	checked, err := db.Check(clientA, offer.IP)
	require.NoError(t, err)
	assert.Equal(t, committed, checked)

	_, err = db.Check([]byte("unknown-client"), offer.IP)
	assert.ErrorIs(t, err, ErrNoRecord)

	_, err = db.Check(clientA, netip.MustParseAddr("192.0.2.109"))
	assert.ErrorIs(t, err, ErrLeaseInvalid)
}

func TestDatabase_Renew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clientA := []byte("client-a")
	hwA := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	db := newTestDatabase(t, fixedClock(testNow))

	offer, err := db.Allocate(ctx, clientA, hwA, nil, nil)
	require.NoError(t, err)
	_, err = db.Assign(ctx, clientA, offer.IP, nil, "")
	require.NoError(t, err)

	renewed, err := db.Renew(ctx, clientA, offer.IP, nil)
	require.NoError(t, err)
	assert.Equal(t, offer.IP, renewed.IP)

	_, err = db.Renew(ctx, []byte("other"), offer.IP, nil)
	assert.ErrorIs(t, err, ErrLeaseInvalid)
}

func TestDatabase_FreezeAndDeallocate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clientA := []byte("client-a")
	hwA := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	db := newTestDatabase(t, fixedClock(testNow))

	offer, err := db.Allocate(ctx, clientA, hwA, nil, nil)
	require.NoError(t, err)
	_, err = db.Assign(ctx, clientA, offer.IP, nil, "")
	require.NoError(t, err)

	err = db.Deallocate(ctx, clientA, offer.IP)
	require.NoError(t, err)

	_, err = db.Check(clientA, offer.IP)
	assert.ErrorIs(t, err, ErrNoRecord)

	err = db.Freeze(ctx, offer.IP)
	require.NoError(t, err)

	second, err := db.Allocate(ctx, []byte("client-b"), hwA, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, offer.IP, second.IP)
}
