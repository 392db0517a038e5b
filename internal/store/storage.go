// Package store selects and decorates storage backends. Higher layers depend
// on the domain.Store interface and open concrete backends through this
// package only.
package store

import (
	"fmt"
	"log/slog"
	"os"

	"splicestore/internal/infra/persistence/memory"
	"splicestore/internal/infra/persistence/postgres"
	"splicestore/internal/infra/persistence/sqlite"
	"splicestore/internal/infra/persistence/sqldb"
	"splicestore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Config holds the identity and behavior of one store instance, independent
// of the backend that will hold its rows.
type Config struct {
	Descriptor domain.StoreDescriptor
	Migration  domain.MigrationID
	Filter     *domain.ContractFilter
	TxLog      domain.TxLogProjector
	Logger     *slog.Logger
	// OnReset fires when a persistent backend drops its rows after a
	// descriptor mismatch. Ignored by the memory backend.
	OnReset func()
}

func (c Config) sqldb() sqldb.Config {
	return sqldb.Config{
		Descriptor: c.Descriptor,
		Migration:  c.Migration,
		Filter:     c.Filter,
		TxLog:      c.TxLog,
		Logger:     c.Logger,
		OnReset:    c.OnReset,
	}
}

func (c Config) memory() memory.Config {
	return memory.Config{
		Descriptor: c.Descriptor,
		Migration:  c.Migration,
		Filter:     c.Filter,
		TxLog:      c.TxLog,
		Logger:     c.Logger,
	}
}

// Open selects a backend using environment variables. Defaults to sqlite
// when unset.
//
//	SPLICESTORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	SPLICESTORE_SQLITE_PATH: path to sqlite file (default ./splicestore.db)
//	SPLICESTORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(cfg Config) (domain.Store, error) {
	driver := os.Getenv("SPLICESTORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	return OpenDriver(StorageDriver(driver), cfg)
}

// OpenDriver opens a specific backend with paths and DSNs taken from the
// environment.
func OpenDriver(driver StorageDriver, cfg Config) (domain.Store, error) {
	switch driver {
	case StorageSQLite:
		return OpenDriverAt(driver, os.Getenv("SPLICESTORE_SQLITE_PATH"), cfg)
	case StoragePostgres:
		return OpenDriverAt(driver, os.Getenv("SPLICESTORE_POSTGRES_DSN"), cfg)
	default:
		return OpenDriverAt(driver, "", cfg)
	}
}

// OpenDriverAt opens a specific backend at an explicit location: a file path
// for sqlite, a DSN for postgres, ignored for memory. An empty location falls
// back to the backend default.
func OpenDriverAt(driver StorageDriver, location string, cfg Config) (domain.Store, error) {
	switch driver {
	case StorageMemory:
		return memory.NewStore(cfg.memory()), nil
	case StorageSQLite:
		return sqlite.NewStore(location, cfg.sqldb())
	case StoragePostgres:
		return postgres.NewStore(location, cfg.sqldb())
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
