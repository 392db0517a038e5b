// Package migrate orchestrates hard domain migrations: bootstrapping a store
// onto a new domain from an ACS snapshot and resuming incremental ingestion
// under a fresh migration id.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"splicestore/internal/blob"
	"splicestore/pkg/domain"
)

// LedgerAdmin is the participant administration surface the restore flow
// drives. The snapshot import is the ledger's own bulk primitive; it does not
// pass through the incremental ingestion path.
type LedgerAdmin interface {
	DisconnectAllDomains(ctx context.Context) error
	UploadDarPackage(ctx context.Context, name string, dar io.Reader) error
	RegisterDomain(ctx context.Context, domainID domain.DomainID, sequencerConnections []string) error
	ImportAcsSnapshot(ctx context.Context, snapshot io.Reader) error
	ConnectDomain(ctx context.Context, domainID domain.DomainID) error
}

// Markers is the slice of the store contract used to persist the
// restored-once marker.
type Markers interface {
	GetMarker(ctx context.Context, key string) (string, bool, error)
	SetMarker(ctx context.Context, key, value string) error
}

// Request describes one restore. Snapshot and DAR contents are resolved from
// the blob store by key; the core never parses them.
type Request struct {
	Domain               domain.DomainID
	Party                domain.PartyID
	Migration            domain.MigrationID
	SequencerConnections []string
	DarKeys              []string
	SnapshotKey          string
}

func (r Request) validate() error {
	if r.Domain == "" {
		return errors.New("restore: domain required")
	}
	if r.Party == "" {
		return errors.New("restore: party required")
	}
	if r.SnapshotKey == "" {
		return errors.New("restore: snapshot key required")
	}
	return nil
}

// markerKey is the per-party, per-migration idempotency marker.
func markerKey(party domain.PartyID, migration domain.MigrationID) string {
	return fmt.Sprintf("acs-imported/%s/%d", party, migration)
}

// Restorer runs idempotent domain bootstrap against a ledger admin API.
type Restorer struct {
	Admin   LedgerAdmin
	Markers Markers
	Blobs   blob.Store
	Logger  *slog.Logger
}

func (r *Restorer) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ConnectDomainAndRestoreData bootstraps the party onto the domain. When the
// restore marker is already persisted only the reconnect runs; otherwise the
// flow is disconnect, upload DARs, register the domain, import the snapshot,
// record the marker, connect. A crash between import and marker leaves the
// flow re-runnable because the marker is written only after a full import.
func (r *Restorer) ConnectDomainAndRestoreData(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	key := markerKey(req.Party, req.Migration)
	if _, done, err := r.Markers.GetMarker(ctx, key); err != nil {
		return fmt.Errorf("load restore marker: %w", err)
	} else if done {
		r.log().Info("acs already imported, reconnecting only",
			"domain", req.Domain, "party", req.Party, "migration", req.Migration)
		return r.Admin.ConnectDomain(ctx, req.Domain)
	}

	r.log().Info("starting domain restore",
		"domain", req.Domain, "party", req.Party, "migration", req.Migration,
		"dars", len(req.DarKeys), "snapshot", req.SnapshotKey)

	if err := r.Admin.DisconnectAllDomains(ctx); err != nil {
		return fmt.Errorf("disconnect domains: %w", err)
	}
	for _, darKey := range req.DarKeys {
		if err := r.uploadDar(ctx, darKey); err != nil {
			return err
		}
	}
	if err := r.Admin.RegisterDomain(ctx, req.Domain, req.SequencerConnections); err != nil {
		return fmt.Errorf("register domain %s: %w", req.Domain, err)
	}
	if err := r.importSnapshot(ctx, req.SnapshotKey); err != nil {
		return err
	}
	if err := r.Markers.SetMarker(ctx, key, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record restore marker: %w", err)
	}
	if err := r.Admin.ConnectDomain(ctx, req.Domain); err != nil {
		return fmt.Errorf("connect domain %s: %w", req.Domain, err)
	}
	r.log().Info("domain restore complete", "domain", req.Domain, "migration", req.Migration)
	return nil
}

func (r *Restorer) uploadDar(ctx context.Context, key string) error {
	_, body, err := r.Blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch dar %s: %w", key, err)
	}
	defer body.Close()
	if err := r.Admin.UploadDarPackage(ctx, key, body); err != nil {
		return fmt.Errorf("upload dar %s: %w", key, err)
	}
	return nil
}

func (r *Restorer) importSnapshot(ctx context.Context, key string) error {
	_, body, err := r.Blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch acs snapshot %s: %w", key, err)
	}
	defer body.Close()
	if err := r.Admin.ImportAcsSnapshot(ctx, body); err != nil {
		return fmt.Errorf("import acs snapshot %s: %w", key, err)
	}
	return nil
}
