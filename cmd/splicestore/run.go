package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"splicestore/internal/ingest"
	"splicestore/internal/observability"
	"splicestore/internal/store"
)

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	var updatesFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion daemon",
		Long: `Run ingestion for the configured store: subscribe to the update
stream, apply updates sequentially and serve metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, updatesFile)
		},
	}
	cmd.Flags().StringVar(&updatesFile, "updates", "", "JSONL update stream ('-' for stdin, overrides config)")
	return cmd
}

func runDaemon(rootOpts *rootOptions, updatesFile string) error {
	logger := rootOpts.logger()
	cfg, err := loadConfig(rootOpts.configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	rec, err := observability.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return fmt.Errorf("register store metrics: %w", err)
	}
	ingestMetrics, err := observability.NewIngestMetrics(reg, cfg.Store.Name)
	if err != nil {
		return fmt.Errorf("register ingest metrics: %w", err)
	}

	st, err := cfg.openStore(logger, ingestMetrics.DescriptorDrop.Inc)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	instrumented := store.WithMetrics(st, rec)

	if updatesFile == "" {
		updatesFile = cfg.Ingest.UpdatesFile
	}
	source, closeSource, err := openSource(updatesFile)
	if err != nil {
		return err
	}
	defer closeSource()

	pipeline, err := ingest.New(ingest.Config{
		Source:    source,
		Sink:      instrumented,
		Parties:   cfg.parties(),
		QueueSize: cfg.Ingest.QueueSize,
		Logger:    logger,
		Metrics:   ingestMetrics,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	logger.Info("ingestion running",
		"store", cfg.Store.Name, "party", cfg.Store.Party, "migration", cfg.Migration)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-pipeline.Done():
	}
	if err := pipeline.Close(); err != nil {
		return fmt.Errorf("stop ingestion: %w", err)
	}
	if err := pipeline.Err(); err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if wm := pipeline.Watermark(); wm != nil {
		logger.Info("ingestion stopped", "watermark", wm.String())
	}
	return nil
}

// openSource builds the update source: a JSONL file, stdin for "-", or an
// empty slice source when no stream is configured.
func openSource(path string) (ingest.Source, func(), error) {
	switch path {
	case "":
		return ingest.NewSliceSource(), func() {}, nil
	case "-":
		return ingest.NewReaderSource(os.Stdin), func() {}, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open update stream: %w", err)
		}
		return ingest.NewReaderSource(f), func() { f.Close() }, nil
	}
}
