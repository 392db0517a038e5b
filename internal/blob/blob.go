// Package blob selects a blob storage backend for bulk artifacts: exported
// ACS snapshots and uploaded DAR packages. Higher layers depend on this
// package only; the concrete backends live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"os"

	"splicestore/internal/blob/core"
	fsblob "splicestore/internal/infra/blob/fs"
	memoryblob "splicestore/internal/infra/blob/memory"
	s3blob "splicestore/internal/infra/blob/s3"
)

// Aliases re-exported so callers do not import core directly.
type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrNotFound mirrors core.ErrNotFound.
var ErrNotFound = core.ErrNotFound

// NewMemory returns an in-memory store.
func NewMemory() Store { return memoryblob.New() }

// NewFilesystem returns a store rooted at dir.
func NewFilesystem(dir string) (Store, error) { return fsblob.New(dir) }

// Open selects a backend using environment variables.
//
//	SPLICESTORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	SPLICESTORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 backend)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("SPLICESTORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("SPLICESTORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3blob.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
