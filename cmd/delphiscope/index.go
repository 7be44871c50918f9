package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delphiscope/internal/chain"
	"delphiscope/internal/config"
	"delphiscope/internal/indexer"
	"delphiscope/internal/market"
	"delphiscope/internal/stats"
	"delphiscope/internal/storage/postgres"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run one indexing pass from the saved cursor to the chain head",
		RunE:  runIndex,
	}
	addChainFlags(cmd)
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(true, true); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	runner, err := buildRunner(cfg, chainClient, store, logger)
	if err != nil {
		return err
	}

	logger.Info("index start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", cfg.ContractAddress),
		zap.Uint64("genesis_block", cfg.GenesisBlock),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("index complete",
		zap.Int("indexed", result.Indexed),
		zap.Uint64("last_block", result.LastBlock),
		zap.Duration("duration", result.Duration),
	)
	return nil
}

func buildRunner(cfg config.Config, chainClient *chain.Client, store *postgres.Store, logger *zap.Logger) (*indexer.Runner, error) {
	metadata := market.NewHTTPMetadataFetcher(cfg.MetadataGateway, cfg.MetadataTimeout)
	builder := stats.NewBuilder(store, logger)

	return indexer.NewRunner(indexer.RunConfig{
		Contract:         common.HexToAddress(cfg.ContractAddress),
		GenesisBlock:     cfg.GenesisBlock,
		Confirmations:    cfg.Confirmations,
		BatchSize:        cfg.BatchSize,
		SnapshotInterval: cfg.SnapshotInterval,
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
	}, chainClient, store, metadata, builder, logger)
}
