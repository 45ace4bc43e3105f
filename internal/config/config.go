package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ACQUIRE_RPC.
const EnvPrefix = "ACQUIRE"

// Config holds configuration for the run command.
type Config struct {
	RPCURL               string
	ContractsURL         string
	HyperdriveAddress    string
	StateABI             string
	TransactionsABI      string
	OutDir               string
	StartBlock           uint64
	LookbackBlockLimit   uint64
	PollInterval         time.Duration
	TransientBackoff     time.Duration
	TransientMaxAttempts int
	TransientMaxDuration time.Duration
	MaxRetries           int
	RetryBackoff         time.Duration
	Store                StoreConfig
	CursorName           string
	MetricsAddr          string
	LogLevel             string
}

// StoreConfig selects the durable backend. A Postgres DSN takes precedence
// over the SQLite path.
type StoreConfig struct {
	PGDSN      string
	PGMaxConns int32
	SQLitePath string
}

// UsePostgres reports whether the Postgres backend is selected.
func (s StoreConfig) UsePostgres() bool {
	return s.PGDSN != ""
}

func (s StoreConfig) validate() error {
	if s.PGDSN == "" && s.SQLitePath == "" {
		return fmt.Errorf("either pg-dsn or sqlite-path is required")
	}
	if s.PGMaxConns < 0 {
		return fmt.Errorf("pg-max-conns must not be negative")
	}
	return nil
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"rpc":                    "http://localhost:8545",
		"contracts-url":          "http://localhost:80/addresses.json",
		"out-dir":                "./data",
		"start-block":            uint64(6),
		"lookback-block-limit":   uint64(1000),
		"poll-interval":          time.Second,
		"transient-backoff":      100 * time.Millisecond,
		"transient-max-attempts": 50,
		"transient-max-duration": 2 * time.Minute,
		"max-retries":            5,
		"retry-backoff":          500 * time.Millisecond,
		"pg-max-conns":           4,
		"sqlite-path":            "./data/acquire.sqlite",
		"cursor-name":            "acquire",
		"log-level":              "info",
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		ContractsURL:         v.GetString("contracts-url"),
		HyperdriveAddress:    v.GetString("hyperdrive-address"),
		StateABI:             v.GetString("state-abi"),
		TransactionsABI:      v.GetString("transactions-abi"),
		OutDir:               v.GetString("out-dir"),
		StartBlock:           v.GetUint64("start-block"),
		LookbackBlockLimit:   v.GetUint64("lookback-block-limit"),
		PollInterval:         v.GetDuration("poll-interval"),
		TransientBackoff:     v.GetDuration("transient-backoff"),
		TransientMaxAttempts: v.GetInt("transient-max-attempts"),
		TransientMaxDuration: v.GetDuration("transient-max-duration"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		Store:                loadStore(v),
		CursorName:           v.GetString("cursor-name"),
		MetricsAddr:          v.GetString("metrics-addr"),
		LogLevel:             v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings the run command cannot work without.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.ContractsURL == "" && c.HyperdriveAddress == "" {
		return fmt.Errorf("either contracts-url or hyperdrive-address is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.CursorName == "" {
		return fmt.Errorf("cursor-name is required")
	}
	return c.Store.validate()
}

// ExportConfig holds configuration for the export command.
type ExportConfig struct {
	OutDir   string
	Store    StoreConfig
	LogLevel string
}

// LoadExport merges config file, environment variables, and flags into ExportConfig.
func LoadExport(cfgFile string, flags *pflag.FlagSet) (ExportConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out-dir":      "./data",
		"pg-max-conns": 4,
		"sqlite-path":  "./data/acquire.sqlite",
		"log-level":    "info",
	})
	if err != nil {
		return ExportConfig{}, err
	}

	cfg := ExportConfig{
		OutDir:   v.GetString("out-dir"),
		Store:    loadStore(v),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.OutDir == "" {
		return ExportConfig{}, fmt.Errorf("out-dir is required")
	}
	if err := cfg.Store.validate(); err != nil {
		return ExportConfig{}, err
	}
	return cfg, nil
}

func loadStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		PGDSN:      v.GetString("pg-dsn"),
		PGMaxConns: v.GetInt32("pg-max-conns"),
		SQLitePath: v.GetString("sqlite-path"),
	}
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
