package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
// Chains, sources, and price strategies only come from the config file; the
// scalar knobs can also be set per-flag or via DEFISCOPE_* env vars.
type Config struct {
	LogLevel string

	PostgresDSN string
	CursorFile  string
	PoolFile    string
	SnapshotOut string

	ChunkSize       uint64
	MaxRetries      int
	RetryBackoff    time.Duration
	Concurrency     int
	MinLiquidityUsd string

	Chains     map[string]string
	Sources    []SourceConfig
	Strategies []StrategyConfig
}

// SourceConfig describes one factory to sync.
type SourceConfig struct {
	Chain      string `mapstructure:"chain"`
	Protocol   string `mapstructure:"protocol"`
	Version    string `mapstructure:"version"`
	Family     string `mapstructure:"family"`
	Factory    string `mapstructure:"factory"`
	BirthBlock uint64 `mapstructure:"birth_block"`
	FeeRate    uint32 `mapstructure:"fee_rate"`
}

// StrategyConfig maps one token to its price resolution strategy.
type StrategyConfig struct {
	Chain string `mapstructure:"chain"`
	Token string `mapstructure:"token"`
	Kind  string `mapstructure:"kind"`

	Price string `mapstructure:"price"`

	Feed string `mapstructure:"feed"`

	Pool          string `mapstructure:"pool"`
	Family        string `mapstructure:"family"`
	BaseToken     string `mapstructure:"base_token"`
	BaseIndex     int    `mapstructure:"base_index"`
	BaseDecimals  uint8  `mapstructure:"base_decimals"`
	QuotaDecimals uint8  `mapstructure:"quota_decimals"`

	Wrapper      string `mapstructure:"wrapper"`
	RateMethod   string `mapstructure:"rate_method"`
	RateDecimals uint8  `mapstructure:"rate_decimals"`
	Underlying   string `mapstructure:"underlying"`
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEFISCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chunk-size", uint64(2000))
	v.SetDefault("cursor-file", "./data/cursors.json")
	v.SetDefault("pool-file", "./data/pools.json")
	v.SetDefault("snapshot-out", "./data/snapshots.jsonl")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("concurrency", 4)
	v.SetDefault("min-liquidity-usd", "10000")
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
		LogLevel:        v.GetString("log-level"),
		PostgresDSN:     v.GetString("pg-dsn"),
		CursorFile:      v.GetString("cursor-file"),
		PoolFile:        v.GetString("pool-file"),
		SnapshotOut:     v.GetString("snapshot-out"),
		ChunkSize:       v.GetUint64("chunk-size"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		Concurrency:     v.GetInt("concurrency"),
		MinLiquidityUsd: v.GetString("min-liquidity-usd"),
		Chains:          v.GetStringMapString("chains"),
	}

	if err := v.UnmarshalKey("sources", &cfg.Sources); err != nil {
		return Config{}, fmt.Errorf("parse sources: %w", err)
	}
	if err := v.UnmarshalKey("strategies", &cfg.Strategies); err != nil {
		return Config{}, fmt.Errorf("parse strategies: %w", err)
	}

	return cfg, nil
}
