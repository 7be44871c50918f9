package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delphiscope/internal/chain"
	"delphiscope/internal/config"
	"delphiscope/internal/indexer"
	"delphiscope/internal/market"
	"delphiscope/internal/server"
	"delphiscope/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run the indexer on a schedule",
		RunE:  runServe,
	}
	addChainFlags(cmd)
	addDBFlags(cmd)
	addLogFlags(cmd)
	cmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	cmd.Flags().String("cron-spec", "@every 60s", "indexer schedule")
	cmd.Flags().String("cron-secret", "", "shared secret for the cron endpoint")
	cmd.Flags().Duration("cache-ttl", 5*time.Minute, "response cache TTL")
	cmd.Flags().Int("quote-top-n", 10, "positions valued with exact on-chain quotes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	contract := common.HexToAddress(cfg.ContractAddress)

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

	quoter, err := market.NewQuoter(chainClient, contract)
	if err != nil {
		return err
	}
	valuer := server.NewValuer(store, quoter, cfg.QuoteTopN)

	srv := server.NewServer(server.Config{
		Addr:       cfg.HTTPAddr,
		CronSecret: cfg.CronSecret,
		CacheTTL:   cfg.CacheTTL,
	}, store, runner, valuer, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.CronSpec, func() {
		result, err := runner.Run(ctx)
		if err != nil {
			if errors.Is(err, indexer.ErrAlreadyRunning) {
				logger.Debug("scheduled run skipped, previous run still in flight")
				return
			}
			logger.Error("scheduled run failed", zap.Error(err))
			return
		}
		if result.Indexed > 0 {
			srv.InvalidateCache()
			logger.Info("scheduled run complete",
				zap.Int("indexed", result.Indexed),
				zap.Uint64("last_block", result.LastBlock))
		}
	})
	if err != nil {
		return fmt.Errorf("bad cron spec %q: %w", cfg.CronSpec, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	logger.Info("serve start",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("cron_spec", cfg.CronSpec),
		zap.String("contract", cfg.ContractAddress),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	return srv.Run(ctx)
}
