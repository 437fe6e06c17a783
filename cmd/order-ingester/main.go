// Command order-ingester runs the order event ingestion pipeline: it consumes
// the partitioned order stream, validates and deduplicates events, and upserts
// them into the warehouse fact table with per-partition checkpointing.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/checkpoint"
	"github.com/tasteflow/order-ingester/internal/config"
	"github.com/tasteflow/order-ingester/internal/dedup"
	"github.com/tasteflow/order-ingester/internal/logging"
	"github.com/tasteflow/order-ingester/internal/metrics"
	"github.com/tasteflow/order-ingester/internal/pipeline"
	"github.com/tasteflow/order-ingester/internal/stream"
	"github.com/tasteflow/order-ingester/internal/validate"
	"github.com/tasteflow/order-ingester/internal/warehouse"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "order-ingester",
		Short:        "Streaming ingester for the order event warehouse",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngester(configPath)
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(run, ver)
	return root
}

func runIngester(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting order ingester",
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.String("version", version),
		zap.String("stream_mode", cfg.Stream.Mode),
		zap.String("warehouse_driver", cfg.Warehouse.Driver),
	)

	if cfg.Metrics.Enabled {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	log, err := openLog(cfg, logger)
	if err != nil {
		return err
	}
	defer log.Close()

	writer, err := openWriter(cfg, logger)
	if err != nil {
		return err
	}
	defer writer.Close()

	store, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	window := dedup.NewWindow(dedup.Config{
		Retention:     cfg.Dedup.Retention,
		MaxEntries:    cfg.Dedup.MaxEntries,
		SweepInterval: cfg.Dedup.SweepInterval,
		Shards:        cfg.Dedup.Shards,
	})
	defer window.Close()

	p := pipeline.New(
		pipeline.Config{
			PollMaxRecords:         cfg.Stream.PollMaxRecords,
			BatchMaxRecords:        cfg.Batch.MaxRecords,
			BatchMaxWait:           cfg.Batch.MaxWait,
			CommitTimeout:          cfg.Warehouse.CommitTimeout,
			CommitRetryInitialWait: cfg.Batch.RetryInitialWait,
			CommitMaxRetryElapsed:  cfg.Batch.MaxRetryElapsed,
		},
		log,
		validate.New(time.Minute),
		window,
		writer,
		store,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	p.Stop()

	for _, parked := range p.ParkedBatches() {
		logger.Warn("batch left parked for inspection",
			zap.Int32("partition", parked.Partition),
			zap.Int64("start_offset", parked.Batch.StartOffset),
			zap.Int64("end_offset", parked.Batch.EndOffset),
			zap.Int64("last_checkpoint", parked.LastCheckpoint),
			zap.Error(parked.Err),
		)
	}
	return nil
}

func openLog(cfg *config.AppConfig, logger *zap.Logger) (stream.Log, error) {
	switch cfg.Stream.Mode {
	case "kafka":
		return stream.NewKafkaLog(stream.KafkaConfig{
			Brokers:          cfg.Stream.Brokers,
			Topic:            cfg.Stream.Topic,
			ConsumerGroup:    cfg.Stream.ConsumerGroup,
			PollTimeout:      cfg.Stream.PollTimeout,
			RetryInitialWait: cfg.Stream.RetryInitialWait,
			MaxRetryElapsed:  cfg.Stream.MaxRetryElapsed,
		}, logger), nil
	case "memory":
		return stream.NewMemLog(1), nil
	}
	return nil, fmt.Errorf("unsupported stream mode %q", cfg.Stream.Mode)
}

func openWriter(cfg *config.AppConfig, logger *zap.Logger) (warehouse.Writer, error) {
	switch cfg.Warehouse.Driver {
	case "duckdb":
		return warehouse.NewDuckDBWriter(cfg.Warehouse.Path, cfg.Warehouse.Table, logger)
	case "postgres":
		return warehouse.NewPostgresWriter(cfg.Warehouse.DSN, cfg.Warehouse.Table, logger)
	}
	return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Warehouse.Driver)
}

func openCheckpointStore(cfg *config.AppConfig) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir, cfg.Checkpoint.Filename)
	case "sqlite":
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.Path)
	}
	return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.Checkpoint.Backend)
}
