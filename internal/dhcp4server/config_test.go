package dhcp4server

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validTestConfig() *Config {
	return &Config{
		ServerIP:          netip.MustParseAddr("192.0.2.1"),
		IfaceName:         "eth0",
		DynamicRangeStart: netip.MustParseAddr("192.0.2.100"),
		DynamicRangeEnd:   netip.MustParseAddr("192.0.2.110"),
		DefaultLease:      time.Hour,
		MinLease:          time.Minute,
		MaxLease:          24 * time.Hour,
		Logger:            testLogger,
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, validTestConfig().Validate())
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()

		var conf *Config
		assert.Error(t, conf.Validate())
	})

	t.Run("no_logger", func(t *testing.T) {
		t.Parallel()

		conf := validTestConfig()
		conf.Logger = nil
		assert.Error(t, conf.Validate())
	})

	t.Run("no_iface", func(t *testing.T) {
		t.Parallel()

		conf := validTestConfig()
		conf.IfaceName = ""
		assert.Error(t, conf.Validate())
	})

	t.Run("min_exceeds_max", func(t *testing.T) {
		t.Parallel()

		conf := validTestConfig()
		conf.MinLease = 2 * 24 * time.Hour
		assert.Error(t, conf.Validate())
	})

	t.Run("no_dynamic_range", func(t *testing.T) {
		t.Parallel()

		conf := validTestConfig()
		conf.DynamicRangeStart = netip.Addr{}
		conf.DynamicRangeEnd = netip.Addr{}
		assert.Error(t, conf.Validate())
	})
}

func TestConfig_offerGraceOrDefault(t *testing.T) {
	t.Parallel()

	conf := validTestConfig()
	assert.Equal(t, defaultOfferGrace, conf.offerGraceOrDefault())

	conf.OfferGrace = 5 * time.Second
	assert.Equal(t, 5*time.Second, conf.offerGraceOrDefault())
}
