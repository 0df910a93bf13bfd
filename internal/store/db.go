package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sql.DB for Postgres using pgx. Replica is nil unless a read
// endpoint is configured.
type DB struct {
	Client  *sql.DB
	Replica *sql.DB
}

// NewDB opens the primary and pings it with a short timeout.
func NewDB(ctx context.Context, connString string, pool PoolConfig) (*DB, error) {
	db, err := open(ctx, connString, pool)
	if err != nil {
		return nil, err
	}
	return &DB{Client: db}, nil
}

// AttachReplica opens a read-only connection used by the query side.
func (d *DB) AttachReplica(ctx context.Context, connString string, pool PoolConfig) error {
	replica, err := open(ctx, connString, pool)
	if err != nil {
		return err
	}
	d.Replica = replica
	return nil
}

// Reader returns the replica when attached, otherwise the primary.
func (d *DB) Reader() *sql.DB {
	if d.Replica != nil {
		return d.Replica
	}
	return d.Client
}

// Healthy verifies the primary is reachable.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connections.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	if d.Replica != nil {
		_ = d.Replica.Close()
	}
	return d.Client.Close()
}

func open(ctx context.Context, connString string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 10
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 5
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
