package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps the Postgres pool shared by the tracking and scan
// repositories. Both read and write paths go through this single pool;
// the scanner endpoints are latency-sensitive, so the pool is sized
// from configuration rather than left at driver defaults.
type DB struct {
	Client *sql.DB
}

// NewDB opens a pgx-backed pool and verifies connectivity before the
// server starts taking scans. maxConns/idleConns of 0 fall back to a
// small pool suited to a single-site deployment.
func NewDB(connString string, maxConns, idleConns int) (*DB, error) {
	if maxConns <= 0 {
		maxConns = 10
	}
	if idleConns <= 0 {
		idleConns = 5
	}

	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(idleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{Client: db}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
