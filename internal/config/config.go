package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	ContractAddress  string
	GenesisBlock     uint64
	Confirmations    uint64
	BatchSize        uint64
	SnapshotInterval uint64
	MaxRetries       int
	RetryDelay       time.Duration
	RPCTimeout       time.Duration
	MetadataTimeout  time.Duration
	MetadataGateway  string
	PGDSN            string
	HTTPAddr         string
	CronSpec         string
	CronSecret       string
	CacheTTL         time.Duration
	QuoteTopN        int
	LogLevel         string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DELPHISCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("confirmations", uint64(2))
	v.SetDefault("batch-size", uint64(1000))
	v.SetDefault("snapshot-interval", uint64(50))
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-delay", time.Second)
	v.SetDefault("rpc-timeout", 30*time.Second)
	v.SetDefault("metadata-timeout", 10*time.Second)
	v.SetDefault("metadata-gateway", "https://ipfs.io/ipfs/")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("cron-spec", "@every 60s")
	v.SetDefault("cache-ttl", 5*time.Minute)
	v.SetDefault("quote-top-n", 10)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		ContractAddress:  v.GetString("contract"),
		GenesisBlock:     v.GetUint64("genesis-block"),
		Confirmations:    v.GetUint64("confirmations"),
		BatchSize:        v.GetUint64("batch-size"),
		SnapshotInterval: v.GetUint64("snapshot-interval"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryDelay:       v.GetDuration("retry-delay"),
		RPCTimeout:       v.GetDuration("rpc-timeout"),
		MetadataTimeout:  v.GetDuration("metadata-timeout"),
		MetadataGateway:  v.GetString("metadata-gateway"),
		PGDSN:            v.GetString("pg-dsn"),
		HTTPAddr:         v.GetString("http-addr"),
		CronSpec:         v.GetString("cron-spec"),
		CronSecret:       v.GetString("cron-secret"),
		CacheTTL:         v.GetDuration("cache-ttl"),
		QuoteTopN:        v.GetInt("quote-top-n"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the fields every command needs before doing any work.
func (c Config) Validate(needRPC, needDB bool) error {
	if needRPC {
		if c.RPCURL == "" {
			return fmt.Errorf("rpc endpoint is required")
		}
		if c.ContractAddress == "" {
			return fmt.Errorf("contract address is required")
		}
		if c.BatchSize == 0 {
			return fmt.Errorf("batch-size must be greater than zero")
		}
	}
	if needDB && c.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}
	return nil
}
