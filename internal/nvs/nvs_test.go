package nvs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/storage"
)

func exercise(t *testing.T, kv KV) {
	t.Helper()
	_, ok, err := kv.GetUint(KeyMode)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.PutUint(KeyMode, 2))
	require.NoError(t, kv.PutUint(KeyNonceFloor, 99))
	v, ok, err := kv.GetUint(KeyMode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), v)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestSQL(t *testing.T) {
	db, err := storage.Open(config.StorageConfig{
		Enabled: true,
		Driver:  "sqlite",
		DSN:     "file:" + filepath.Join(t.TempDir(), "nvs.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Init(context.Background()))
	defer db.Close()

	kv := NewSQL(db)
	exercise(t, kv)
	assert.True(t, Probe(kv))
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "nvs.json")
	f, err := OpenFile(path)
	require.NoError(t, err)
	exercise(t, f)

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, ok, err := reopened.GetUint(KeyNonceFloor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(99), v)

	require.NoError(t, reopened.Delete())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileRejectsCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	assert.False(t, Probe(Unavailable{}))
	assert.False(t, Probe(nil))
	assert.ErrorIs(t, Unavailable{}.PutUint(KeyMode, 1), ErrUnavailable)
	assert.ErrorIs(t, NewSQL(nil).PutUint(KeyMode, 1), ErrUnavailable)
}

type stuckDB struct{}

func (stuckDB) GetUint(ctx context.Context, _ string) (uint32, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func (stuckDB) PutUint(ctx context.Context, _ string, _ uint32) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSQLCallsAreBounded(t *testing.T) {
	kv := NewSQL(nil)
	kv.db = stuckDB{}

	start := time.Now()
	err := kv.PutUint(KeyNonceFloor, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, _, err = kv.GetUint(KeyMode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*sqlTimeout+200*time.Millisecond)
}

func TestSQLWithoutDatabase(t *testing.T) {
	kv := NewSQL(nil)
	assert.ErrorIs(t, kv.PutUint(KeyMode, 1), ErrUnavailable)
	assert.False(t, Probe(kv))
}
