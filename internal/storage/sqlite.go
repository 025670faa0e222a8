package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_slots (
		slot INTEGER PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
}

func openSQLite(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:zoneguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps in-memory databases on a single connection.
	db.SetMaxOpenConns(1)
	return &DB{db: db, dialect: DialectSQLite}, nil
}
