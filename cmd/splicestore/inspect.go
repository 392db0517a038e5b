package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"splicestore/pkg/domain"
)

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the store's descriptor and watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectStore(cmd.Context(), rootOpts)
		},
	}
}

type inspectOutput struct {
	Descriptor domain.StoreDescriptor `json:"descriptor"`
	Migration  domain.MigrationID     `json:"migration"`
	Watermark  *domain.Cursor         `json:"watermark"`
	Templates  []domain.TemplateID    `json:"templates"`
}

func inspectStore(ctx context.Context, rootOpts *rootOptions) error {
	cfg, err := loadConfig(rootOpts.configPath)
	if err != nil {
		return err
	}
	st, err := cfg.openStore(rootOpts.logger(), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	wm, err := st.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	out := inspectOutput{
		Descriptor: st.Descriptor(),
		Migration:  st.Migration(),
		Watermark:  wm,
		Templates:  cfg.templateIDs(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
