package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_slots (
		slot INTEGER PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
}

func openPostgres(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/zoneguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, dialect: DialectPostgres}, nil
}
