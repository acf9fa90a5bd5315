// Copyright 2025 James Ross
package sqlqueue

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ConnectPostgres opens a pooled connection to dsn and ensures the jobs
// schema exists before returning.
func ConnectPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int, enableSkipLocked bool) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	b := NewPostgres(db, WithSkipLocked(enableSkipLocked))
	if err := b.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// ConnectSQLite opens (and creates, if absent) the SQLite database file
// at path and ensures the jobs schema exists before returning.
func ConnectSQLite(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// mattn/go-sqlite3 serializes writers at the C layer; a single
	// connection avoids "database is locked" errors under concurrent
	// worker dequeues.
	db.SetMaxOpenConns(1)

	b := NewSQLite(db)
	if err := b.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}
