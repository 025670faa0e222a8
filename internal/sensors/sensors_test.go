package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/types"
)

func TestActivityTrackerNeedsInactiveSampleFirst(t *testing.T) {
	var a ActivityTracker
	a.Observe(100, true)
	assert.False(t, a.StuckActive(1_000_000, 1000), "floating-high boot input must not count as stuck")

	a.Observe(200, false)
	a.Observe(300, true)
	assert.False(t, a.StuckActive(1299, 1000))
	assert.True(t, a.StuckActive(1300, 1000))
	assert.False(t, a.StuckActive(1300, 0), "zero threshold disables the check")

	a.Observe(1400, false)
	assert.False(t, a.StuckActive(5000, 1000))
}

func TestRangeTrackerOffline(t *testing.T) {
	var r RangeTracker
	assert.False(t, r.Offline(100, 30000, 3))
	assert.True(t, r.Offline(30000, 30000, 3), "never valid and past the window")

	r.Observe(1000, 40)
	assert.False(t, r.Offline(30999, 30000, 3))
	assert.True(t, r.Offline(31000, 30000, 3))

	r.Observe(31000, -1)
	r.Observe(31100, -1)
	assert.False(t, r.Offline(31200, 0, 3))
	r.Observe(31200, -1)
	assert.True(t, r.Offline(31200, 0, 3))
	assert.Equal(t, uint16(3), r.ConsecutiveNoEcho())

	r.Observe(31300, 50)
	assert.False(t, r.Offline(31300, 0, 3))
	assert.Equal(t, 50, r.LastCm())
}

func TestChokepointHysteresis(t *testing.T) {
	c := NewChokepoint(2)

	e, ok := c.Sample(1000, 4)
	require.True(t, ok)
	assert.Equal(t, types.EventChokepoint, e.Type)
	assert.Equal(t, uint8(2), e.Source)

	_, ok = c.Sample(1100, 3)
	assert.False(t, ok, "still inside")
	_, ok = c.Sample(1200, 8)
	assert.False(t, ok, "between near and far keeps inside")
	_, ok = c.Sample(1300, 12)
	assert.False(t, ok)

	_, ok = c.Sample(1400, 4)
	assert.False(t, ok, "re-entry within cooldown is suppressed")

	c.Sample(1500, 20)
	_, ok = c.Sample(3000, 5)
	assert.True(t, ok)
}

func TestEdgeCooldown(t *testing.T) {
	e := &Edge{Type: types.EventMotion, ID: 1, CooldownMs: 1500}
	_, ok := e.Sample(1000, true)
	assert.True(t, ok)
	_, ok = e.Sample(1100, true)
	assert.False(t, ok, "no edge while held")
	e.Sample(1200, false)
	_, ok = e.Sample(1300, true)
	assert.False(t, ok, "cooldown")
	e.Sample(1400, false)
	_, ok = e.Sample(2600, true)
	assert.True(t, ok)
}

func TestBankHealth(t *testing.T) {
	b := NewBank()
	b.UltrasonicWired[0] = true
	th := Thresholds{PIRStuckActiveMs: 1000, VibStuckActiveMs: 500, UltrasonicOfflineMs: 0, UltrasonicNoEchoLimit: 2}

	b.PIR[1].Sample(10, false)
	b.PIR[1].Sample(20, true)
	b.Chokepoint[0].Sample(30, -1)
	b.Chokepoint[0].Sample(40, -1)
	b.Chokepoint[2].Sample(30, -1)
	b.Chokepoint[2].Sample(40, -1)

	hs := b.ReadHealth(2000, th)
	assert.Equal(t, []string{"pir2_stuck", "us1_offline"}, hs.Faults())
	assert.Equal(t, "pir2_stuck;us1_offline;", hs.Detail())
	assert.False(t, hs.Healthy())

	assert.True(t, HealthSnapshot{}.Healthy())
	assert.Equal(t, "", HealthSnapshot{}.Detail())
}
