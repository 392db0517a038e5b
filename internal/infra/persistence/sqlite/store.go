// Package sqlite provides the embedded SQLite-backed store used for
// single-node deployments and tests.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"splicestore/internal/infra/persistence/sqldb"
)

// Store is the SQLite-backed store instance.
type Store struct {
	*sqldb.Store
	path string
}

// NewStore opens (creating if necessary) a SQLite-backed store at path.
func NewStore(path string, cfg sqldb.Config) (*Store, error) {
	if path == "" {
		path = "splicestore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY under the concurrent
	// ingestion races the history uniqueness key is there to absorb.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	inner, err := sqldb.Open(db, sqldb.DialectSQLite, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
