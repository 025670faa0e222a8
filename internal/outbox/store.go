package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/storage"
)

var ErrStoreFull = errors.New("store full")

// Store is the FIFO ring holding records while the transport is away.
// Only the delivery task touches it.
type Store interface {
	Push(r Record) error
	Peek() (Record, bool)
	Pop() error
	Len() int
	Cap() int
}

// ring is the in-memory circular buffer shared by both store implementations.
type ring struct {
	slots []Record
	head  int
	tail  int
	count int
}

func newRing(capacity int) ring {
	if capacity <= 0 {
		capacity = 1
	}
	return ring{slots: make([]Record, capacity)}
}

func (r *ring) full() bool { return r.count >= len(r.slots) }

func (r *ring) push(rec Record) int {
	idx := r.tail
	r.slots[idx] = rec
	r.tail = (r.tail + 1) % len(r.slots)
	r.count++
	return idx
}

func (r *ring) peek() (Record, bool) {
	if r.count == 0 {
		return Record{}, false
	}
	return r.slots[r.head], true
}

func (r *ring) pop() {
	if r.count == 0 {
		return
	}
	r.slots[r.head] = Record{}
	r.head = (r.head + 1) % len(r.slots)
	r.count--
}

func (r *ring) meta() storage.RingMeta {
	return storage.RingMeta{Head: r.head, Tail: r.tail, Count: r.count}
}

// MemoryStore loses its contents on restart.
type MemoryStore struct {
	r ring
}

func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{r: newRing(capacity)}
}

func (m *MemoryStore) Push(rec Record) error {
	if m.r.full() {
		return ErrStoreFull
	}
	m.r.push(rec)
	return nil
}

func (m *MemoryStore) Peek() (Record, bool) { return m.r.peek() }

func (m *MemoryStore) Pop() error {
	m.r.pop()
	return nil
}

func (m *MemoryStore) Len() int { return m.r.count }
func (m *MemoryStore) Cap() int { return len(m.r.slots) }

const storeTimeout = 2 * time.Second

// SQLStore mirrors the ring in memory and writes every change through to the database.
type SQLStore struct {
	db     *storage.DB
	r      ring
	logger *log.Logger
}

// OpenSQLStore reloads a previously persisted ring. Metadata that does not fit
// the configured capacity, or a live slot that cannot be decoded, resets the ring.
func OpenSQLStore(ctx context.Context, db *storage.DB, capacity int, logger *log.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = log.Nop()
	}
	s := &SQLStore{db: db, r: newRing(capacity), logger: logger}

	meta, slots, ok, err := db.LoadRing(ctx)
	if err != nil {
		return nil, fmt.Errorf("load outbox ring: %w", err)
	}
	if !ok {
		return s, nil
	}
	if !s.restore(meta, slots) {
		logger.Warn("Persisted outbox ring invalid (head=%d tail=%d count=%d), resetting", meta.Head, meta.Tail, meta.Count)
		s.r = newRing(capacity)
		if err := db.ResetRing(ctx); err != nil {
			return nil, fmt.Errorf("reset outbox ring: %w", err)
		}
		return s, nil
	}
	if s.r.count > 0 {
		logger.Info("Restored %d stored outbox records", s.r.count)
	}
	return s, nil
}

func (s *SQLStore) restore(meta storage.RingMeta, slots map[int]string) bool {
	capacity := len(s.r.slots)
	if meta.Head < 0 || meta.Head >= capacity || meta.Tail < 0 || meta.Tail >= capacity {
		return false
	}
	if meta.Count < 0 || meta.Count > capacity || (meta.Head+meta.Count)%capacity != meta.Tail {
		return false
	}
	for i := 0; i < meta.Count; i++ {
		idx := (meta.Head + i) % capacity
		payload, ok := slots[idx]
		if !ok {
			return false
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return false
		}
		s.r.slots[idx] = rec
	}
	s.r.head, s.r.tail, s.r.count = meta.Head, meta.Tail, meta.Count
	return true
}

func (s *SQLStore) Push(rec Record) error {
	if s.r.full() {
		return ErrStoreFull
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	next := s.r
	idx := next.tail
	next.tail = (next.tail + 1) % len(next.slots)
	next.count++

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.db.SaveRing(ctx, next.meta(), idx, string(payload)); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	s.r.push(rec)
	return nil
}

func (s *SQLStore) Peek() (Record, bool) { return s.r.peek() }

// Pop removes the head even when the metadata write fails; the record has
// already been delivered and must not be sent twice in this process.
func (s *SQLStore) Pop() error {
	if s.r.count == 0 {
		return nil
	}
	s.r.pop()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.db.SaveRing(ctx, s.r.meta(), -1, ""); err != nil {
		return fmt.Errorf("persist pop: %w", err)
	}
	return nil
}

func (s *SQLStore) Len() int { return s.r.count }
func (s *SQLStore) Cap() int { return len(s.r.slots) }

// Drain moves every held record into dst, oldest first. Used when falling back
// to memory after a persistence failure.
func (s *SQLStore) Drain(dst Store) int {
	moved := 0
	for {
		rec, ok := s.r.peek()
		if !ok {
			return moved
		}
		if err := dst.Push(rec); err != nil {
			return moved
		}
		s.r.pop()
		moved++
	}
}

// Records lists the held records oldest first without removing them.
func (s *SQLStore) Records() []Record {
	out := make([]Record, 0, s.r.count)
	for i := 0; i < s.r.count; i++ {
		out = append(out, s.r.slots[(s.r.head+i)%len(s.r.slots)])
	}
	return out
}

// Reset drops every held record, in memory and in the database.
func (s *SQLStore) Reset(ctx context.Context) error {
	s.r = newRing(len(s.r.slots))
	return s.db.ResetRing(ctx)
}
