package dhcp4client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_sequence(t *testing.T) {
	b := newBackoff(backoffMinimal, backoffMaximal)

	wantCurrents := []time.Duration{
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
	}

	for i, want := range wantCurrents {
		sleep, expired := b.next()

		assert.InDeltaf(t, want.Seconds(), sleep.Seconds(), 1,
			"tick %d: sleep %s not within 1s of %s", i, sleep, want)

		wantExpired := want == backoffMaximal
		assert.Equalf(t, wantExpired, expired, "tick %d", i)
	}
}

func TestHalving_countdown(t *testing.T) {
	// left=45s is already below 2*minimal (120s), so the very first tick is
	// terminal and sleeps all of it.
	h := newHalving(45 * time.Second)

	sleep, expired := h.next()
	assert.Equal(t, 45*time.Second, sleep)
	assert.True(t, expired)
}

func TestHalving_halvesUntilTerminal(t *testing.T) {
	h := newHalving(10 * time.Minute)

	sleep, expired := h.next()
	require.False(t, expired)
	assert.Equal(t, 5*time.Minute, sleep)

	sleep, expired = h.next()
	require.False(t, expired)
	assert.Equal(t, 150*time.Second, sleep)

	// Continue until the terminal tick fires once left drops below
	// 2*minimal; every non-terminal tick must be at least minimal.
	for i := 0; i < 10 && !expired; i++ {
		sleep, expired = h.next()
		if !expired {
			assert.GreaterOrEqual(t, sleep, halvingMinimal)
		}
	}
	assert.True(t, expired)
}
