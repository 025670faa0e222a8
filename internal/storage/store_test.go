package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.StorageConfig{
		Enabled: true,
		Driver:  "sqlite",
		DSN:     "file:" + filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Init(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenDisabledAndUnknownDriver(t *testing.T) {
	_, err := Open(config.StorageConfig{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = Open(config.StorageConfig{Enabled: true, Driver: "oracle"})
	assert.Error(t, err)
}

func TestUintRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, ok, err := db.GetUint(ctx, "mode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutUint(ctx, "mode", 2))
	require.NoError(t, db.PutUint(ctx, "mode", 3))
	require.NoError(t, db.PutUint(ctx, "rnonce", 4294967295))

	v, ok, err := db.GetUint(ctx, "mode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), v)

	v, _, err = db.GetUint(ctx, "rnonce")
	require.NoError(t, err)
	assert.Equal(t, uint32(4294967295), v)
}

func TestRingSaveLoadReset(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, _, ok, err := db.LoadRing(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveRing(ctx, RingMeta{Head: 0, Tail: 1, Count: 1}, 0, `{"kind":"event"}`))
	require.NoError(t, db.SaveRing(ctx, RingMeta{Head: 0, Tail: 2, Count: 2}, 1, `{"kind":"status"}`))

	meta, slots, ok, err := db.LoadRing(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RingMeta{Head: 0, Tail: 2, Count: 2}, meta)
	assert.Equal(t, `{"kind":"status"}`, slots[1])

	require.NoError(t, db.ResetRing(ctx))
	meta, slots, ok, err = db.LoadRing(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, RingMeta{}, meta)
	assert.Empty(t, slots)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &DB{dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.Rebind("x = ?"))
}
