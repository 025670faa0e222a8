// Package nvs is the non-volatile key-value store holding the persisted arming
// mode and the remote nonce floor.
package nvs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/daemonp/zoneguard/internal/storage"
)

// Keys written by the controller.
const (
	KeyMode       = "mode"
	KeyNonceFloor = "rnonce"
)

var ErrUnavailable = errors.New("non-volatile storage unavailable")

type KV interface {
	GetUint(key string) (uint32, bool, error)
	PutUint(key string, v uint32) error
}

// sqlTimeout bounds each call. Writes run on the decision loop, so a busy
// database costs at most one short stall per write.
const sqlTimeout = 250 * time.Millisecond

type sqlBackend interface {
	GetUint(ctx context.Context, key string) (uint32, bool, error)
	PutUint(ctx context.Context, key string, v uint32) error
}

// SQL stores values in the kv table of the local database.
type SQL struct {
	db      sqlBackend
	timeout time.Duration
}

func NewSQL(db *storage.DB) *SQL {
	s := &SQL{timeout: sqlTimeout}
	if db != nil {
		s.db = db
	}
	return s
}

func (s *SQL) GetUint(key string) (uint32, bool, error) {
	if s.db == nil {
		return 0, false, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.db.GetUint(ctx, key)
}

func (s *SQL) PutUint(key string, v uint32) error {
	if s.db == nil {
		return ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.db.PutUint(ctx, key, v)
}

// Memory keeps values for the life of the process. Used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	values map[string]uint32
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]uint32)}
}

func (m *Memory) GetUint(key string) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) PutUint(key string, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
	return nil
}

// Unavailable fails every call. It stands in when no backing store could be opened.
type Unavailable struct{}

func (Unavailable) GetUint(string) (uint32, bool, error) { return 0, false, ErrUnavailable }
func (Unavailable) PutUint(string, uint32) error         { return ErrUnavailable }

// Probe reports whether kv can be read. The answer is taken once at boot.
func Probe(kv KV) bool {
	if kv == nil {
		return false
	}
	_, _, err := kv.GetUint(KeyMode)
	return err == nil
}
