package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"splicestore/internal/blob"
	"splicestore/internal/migrate"
	"splicestore/pkg/domain"
)

func newRestoreCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Bootstrap the store onto a new domain from an ACS snapshot",
		Long: `Run the idempotent domain restore: upload configured DAR packages,
register the domain, bulk-import the ACS snapshot and reconnect. A restore
that already completed for this party and migration only reconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), rootOpts)
		},
	}
}

func runRestore(ctx context.Context, rootOpts *rootOptions) error {
	logger := rootOpts.logger()
	cfg, err := loadConfig(rootOpts.configPath)
	if err != nil {
		return err
	}
	if cfg.Restore.Domain == "" {
		return fmt.Errorf("config %s: restore.domain required", rootOpts.configPath)
	}

	st, err := cfg.openStore(logger, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	blobs, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	restorer := &migrate.Restorer{
		Admin: &migrate.ScriptAdmin{
			DisconnectHook: cfg.Restore.Hooks.Disconnect,
			UploadDarHook:  cfg.Restore.Hooks.UploadDar,
			RegisterHook:   cfg.Restore.Hooks.Register,
			ImportAcsHook:  cfg.Restore.Hooks.ImportAcs,
			ConnectHook:    cfg.Restore.Hooks.Connect,
		},
		Markers: st,
		Blobs:   blobs,
		Logger:  logger,
	}
	return restorer.ConnectDomainAndRestoreData(ctx, migrate.Request{
		Domain:               domain.DomainID(cfg.Restore.Domain),
		Party:                domain.PartyID(cfg.Store.Party),
		Migration:            domain.MigrationID(cfg.Migration),
		SequencerConnections: cfg.Restore.SequencerConnections,
		DarKeys:              cfg.Restore.DarKeys,
		SnapshotKey:          cfg.Restore.SnapshotKey,
	})
}
