// Package postgres provides the PostgreSQL-backed store used by multi-node
// deployments where several processes share one database.
package postgres

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"splicestore/internal/infra/persistence/sqldb"
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the store factory defaults while
	// allowing overrides via env.
	defaultDSN = "postgres://localhost/splicestore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is the PostgreSQL-backed store instance.
type Store struct {
	*sqldb.Store
}

// NewStore opens a PostgreSQL-backed store using the provided DSN (falls back
// to defaultDSN).
func NewStore(dsn string, cfg sqldb.Config) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	inner, err := sqldb.Open(db, sqldb.DialectPostgres, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
