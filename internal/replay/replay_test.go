package replay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/config"
)

type memStore struct {
	values map[string]uint32
	getErr error
	puts   int
}

func newMemStore() *memStore {
	return &memStore{values: map[string]uint32{}}
}

func (m *memStore) GetUint(key string) (uint32, bool, error) {
	if m.getErr != nil {
		return 0, false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) PutUint(key string, v uint32) error {
	m.values[key] = v
	m.puts++
	return nil
}

func TestGuardRejectsDuplicateUntilExpiry(t *testing.T) {
	g := NewGuard()
	const ttl = 1000
	assert.True(t, g.Accept("n", 5, ttl))
	assert.False(t, g.Accept("n", 6, ttl))
	assert.True(t, g.Accept("n", 5+ttl+1, ttl))
}

func TestGuardRejectsEmptyAndZeroTTL(t *testing.T) {
	g := NewGuard()
	assert.False(t, g.Accept("", 1, 100))
	assert.False(t, g.Accept("x", 1, 0))
	assert.Zero(t, g.Live(1))
}

func TestGuardRecyclesOldestSlot(t *testing.T) {
	g := NewGuard()
	for i := 0; i < GuardSlots; i++ {
		require.True(t, g.Accept(fmt.Sprintf("n%d", i), 10, 10_000))
	}
	assert.Equal(t, GuardSlots, g.Live(10))
	// One more evicts n0 while it is still live.
	require.True(t, g.Accept("overflow", 11, 10_000))
	assert.True(t, g.Accept("n0", 12, 10_000))
	assert.False(t, g.Accept("n5", 12, 10_000))
}

func TestGuardSurvivesClockWrap(t *testing.T) {
	g := NewGuard()
	start := uint32(0xFFFFFF00)
	require.True(t, g.Accept("w", start, 0x200))
	assert.False(t, g.Accept("w", 0x50, 0x200))
	assert.True(t, g.Accept("w", 0x101, 0x200))
}

func TestParsePayload(t *testing.T) {
	req, err := ParsePayload("Secret|17| Unlock Door ", "secret", true)
	require.NoError(t, err)
	assert.Equal(t, "17", req.Nonce)
	assert.Equal(t, "unlock door", req.Command)

	_, err = ParsePayload("wrong|17|status", "secret", true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = ParsePayload("secret|status", "secret", true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	req, err = ParsePayload("secret|status", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, "status", req.Command)

	_, err = ParsePayload("secret||status", "secret", true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = ParsePayload("|1|status", "secret", true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	req, err = ParsePayload("ARM_AWAY", "", false)
	require.NoError(t, err)
	assert.Equal(t, "arm away", req.Command)
}

func TestParseNonce(t *testing.T) {
	v, ok := ParseNonce("4294967295")
	assert.True(t, ok)
	assert.Equal(t, uint32(4294967295), v)
	_, ok = ParseNonce("4294967296")
	assert.False(t, ok)
	_, ok = ParseNonce("+12")
	assert.False(t, ok)
	_, ok = ParseNonce("")
	assert.False(t, ok)
}

func remoteConfig() config.RemoteConfig {
	cfg := config.DefaultConfig().Remote
	cfg.Token = "secret"
	return cfg
}

func TestAuthorizeWithoutTokenOnlyAllowsStatus(t *testing.T) {
	cfg := remoteConfig()
	cfg.Token = ""
	a := NewAuthorizer(cfg, newMemStore(), nil)

	req, err := a.Authorize(" STATUS ", 1)
	require.NoError(t, err)
	assert.Equal(t, "status", req.Command)

	_, err = a.Authorize("unlock door", 1)
	assert.ErrorIs(t, err, ErrTokenRequired)

	cfg.AllowWithoutToken = true
	a = NewAuthorizer(cfg, newMemStore(), nil)
	req, err = a.Authorize("unlock door", 1)
	require.NoError(t, err)
	assert.Equal(t, "unlock door", req.Command)
}

func TestAuthorizeMonotonicFloor(t *testing.T) {
	store := newMemStore()
	store.values[NonceFloorKey] = 100
	a := NewAuthorizer(remoteConfig(), store, nil)
	require.True(t, a.PersistenceReady())

	_, err := a.Authorize("secret|100|lock door", 1)
	assert.ErrorIs(t, err, ErrReplay)

	_, err = a.Authorize("secret|101|lock door", 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(101), a.Floor())
	assert.Equal(t, uint32(101), store.values[NonceFloorKey])

	// Below the floor but unseen by the replay window: still rejected.
	_, err = a.Authorize("secret|50|lock door", 3)
	assert.ErrorIs(t, err, ErrReplay)

	_, err = a.Authorize("secret|abc|lock door", 4)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestAuthorizeFloorSurvivesRestart(t *testing.T) {
	store := newMemStore()
	a := NewAuthorizer(remoteConfig(), store, nil)
	_, err := a.Authorize("secret|7|arm away", 1)
	require.NoError(t, err)

	restarted := NewAuthorizer(remoteConfig(), store, nil)
	_, err = restarted.Authorize("secret|7|arm away", 1)
	assert.ErrorIs(t, err, ErrReplay)
	_, err = restarted.Authorize("secret|8|arm away", 1)
	assert.NoError(t, err)
}

func TestAuthorizeReadOnlyBypassesFloor(t *testing.T) {
	store := newMemStore()
	store.values[NonceFloorKey] = 100
	a := NewAuthorizer(remoteConfig(), store, nil)

	_, err := a.Authorize("secret|5|status", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), a.Floor())
	assert.Zero(t, store.puts)

	// Replay window still applies to read-only commands.
	_, err = a.Authorize("secret|5|status", 2)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestAuthorizeFailsClosedWithoutPersistence(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("flash gone")
	a := NewAuthorizer(remoteConfig(), store, nil)
	assert.False(t, a.PersistenceReady())

	_, err := a.Authorize("secret|1|unlock door", 1)
	assert.ErrorIs(t, err, ErrNonceStorage)

	_, err = a.Authorize("secret|1|status", 1)
	assert.NoError(t, err)

	cfg := remoteConfig()
	cfg.FailClosedIfNoncePersistenceMissing = false
	a = NewAuthorizer(cfg, nil, nil)
	_, err = a.Authorize("secret|1|unlock door", 1)
	assert.NoError(t, err)
}

func TestAuthorizeWrongToken(t *testing.T) {
	a := NewAuthorizer(remoteConfig(), newMemStore(), nil)
	_, err := a.Authorize("guess|1|unlock door", 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "unauthorized", err.Error())
}
