package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "delphiscope",
		Short:        "Prediction market indexer and stats engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newRecomputeCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("contract", "", "market contract address")
	cmd.Flags().Uint64("genesis-block", 0, "first block to index")
	cmd.Flags().Uint64("confirmations", 2, "confirmation margin below the chain head")
	cmd.Flags().Uint64("batch-size", 1000, "blocks per log filter call")
	cmd.Flags().Uint64("snapshot-interval", 50, "price snapshot block interval")
	cmd.Flags().Int("max-retries", 3, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-delay", time.Second, "delay between retry attempts")
	cmd.Flags().Duration("rpc-timeout", 30*time.Second, "per-call RPC timeout")
	cmd.Flags().Duration("metadata-timeout", 10*time.Second, "market metadata fetch timeout")
	cmd.Flags().String("metadata-gateway", "https://ipfs.io/ipfs/", "IPFS gateway for market metadata")
}

func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
