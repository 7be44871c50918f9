package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delphiscope/internal/config"
	"delphiscope/internal/stats"
	"delphiscope/internal/storage/postgres"
)

func newRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild all trader stats and market aggregates from stored trades",
		RunE:  runRecompute,
	}
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runRecompute(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(false, true); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	logger.Info("recompute start", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))

	builder := stats.NewBuilder(store, logger)
	traders, err := builder.RebuildAll(ctx)
	if err != nil {
		return err
	}

	logger.Info("recompute complete", zap.Int("traders", traders))
	return nil
}
