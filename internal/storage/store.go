// Package storage opens the local database behind the persisted outbox ring and
// the non-volatile key-value store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/daemonp/zoneguard/internal/config"
)

var ErrDisabled = errors.New("storage disabled")

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DB wraps a database/sql handle with the dialect needed to rebind placeholders.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open selects the driver from cfg. It does not touch the schema; call Init.
func Open(cfg config.StorageConfig) (*DB, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return openSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func (d *DB) Init(ctx context.Context) error {
	stmts := sqliteSchema
	if d.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Rebind rewrites "?" placeholders as "$1".."$n" for postgres.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetUint reads a persisted counter. ok is false when the key was never written.
func (d *DB) GetUint(ctx context.Context, key string) (uint32, bool, error) {
	var v int64
	err := d.db.QueryRowContext(ctx, d.Rebind(`SELECT value FROM kv WHERE name = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(v), true, nil
}

func (d *DB) PutUint(ctx context.Context, key string, v uint32) error {
	_, err := d.db.ExecContext(ctx,
		d.Rebind(`INSERT INTO kv (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`),
		key, int64(v))
	return err
}

// RingMeta locates the live window of the persisted outbox ring.
type RingMeta struct {
	Head  int
	Tail  int
	Count int
}

const (
	ringHeadKey  = "obx_head"
	ringTailKey  = "obx_tail"
	ringCountKey = "obx_count"
)

// LoadRing returns the persisted ring metadata and every stored slot.
// ok is false when no metadata was ever saved.
func (d *DB) LoadRing(ctx context.Context) (RingMeta, map[int]string, bool, error) {
	var meta RingMeta
	head, okHead, err := d.GetUint(ctx, ringHeadKey)
	if err != nil {
		return meta, nil, false, err
	}
	tail, okTail, err := d.GetUint(ctx, ringTailKey)
	if err != nil {
		return meta, nil, false, err
	}
	count, okCount, err := d.GetUint(ctx, ringCountKey)
	if err != nil {
		return meta, nil, false, err
	}
	if !okHead || !okTail || !okCount {
		return meta, nil, false, nil
	}
	meta = RingMeta{Head: int(head), Tail: int(tail), Count: int(count)}

	rows, err := d.db.QueryContext(ctx, `SELECT slot, payload FROM outbox_slots`)
	if err != nil {
		return meta, nil, false, err
	}
	defer rows.Close()
	slots := make(map[int]string)
	for rows.Next() {
		var idx int
		var payload string
		if err := rows.Scan(&idx, &payload); err != nil {
			return meta, nil, false, err
		}
		slots[idx] = payload
	}
	return meta, slots, true, rows.Err()
}

// SaveRing writes the metadata and, when slot >= 0, one slot payload in a single transaction.
func (d *DB) SaveRing(ctx context.Context, meta RingMeta, slot int, payload string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if slot >= 0 {
		if _, err := tx.ExecContext(ctx,
			d.Rebind(`INSERT INTO outbox_slots (slot, payload) VALUES (?, ?)
			ON CONFLICT (slot) DO UPDATE SET payload = excluded.payload`),
			slot, payload); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	upsert := d.Rebind(`INSERT INTO kv (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
	for _, kv := range []struct {
		key string
		val int
	}{{ringHeadKey, meta.Head}, {ringTailKey, meta.Tail}, {ringCountKey, meta.Count}} {
		if _, err := tx.ExecContext(ctx, upsert, kv.key, int64(kv.val)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ResetRing drops every stored slot and zeroes the metadata.
func (d *DB) ResetRing(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM outbox_slots`); err != nil {
		return err
	}
	return d.SaveRing(ctx, RingMeta{}, -1, "")
}
