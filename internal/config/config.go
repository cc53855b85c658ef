// Package config defines the top-level configuration for the indexer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTIDX_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Pricing     PricingConfig     `toml:"pricing"`
	MintOracle  MintOracleConfig  `toml:"mint_oracle"`
	Attribution AttributionConfig `toml:"attribution"`
	Floor       FloorConfig       `toml:"floor"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Server      ServerConfig      `toml:"server"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig holds JSON-RPC endpoint and scraping parameters.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`

	// Confirmations is how far behind head the scraper stays to avoid reorgs.
	Confirmations uint64 `toml:"confirmations"`

	// BatchSize is the maximum block span fetched per iteration.
	BatchSize uint64 `toml:"batch_size"`

	ScrapeInterval duration `toml:"scrape_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PricingConfig holds the currency price oracle endpoint.
type PricingConfig struct {
	OracleURL    string `toml:"oracle_url"`
	OracleAPIKey string `toml:"oracle_api_key"`
}

// MintOracleConfig holds the mint-simulation service endpoint and the
// contracts whose mints are never treated as sales.
type MintOracleConfig struct {
	URL       string   `toml:"url"`
	APIKey    string   `toml:"api_key"`
	Blacklist []string `toml:"blacklist"`
}

// AttributionConfig holds attribution-source parameters. KindDefaults maps a
// protocol kind to the source domain credited when an order carries no
// explicit source.
type AttributionConfig struct {
	CacheTTL     duration          `toml:"cache_ttl"`
	KindDefaults map[string]string `toml:"kind_defaults"`
}

// FloorConfig holds floor-selection parameters. NormalizedExclude lists the
// protocol kinds skipped by the royalty-normalized floor selection.
type FloorConfig struct {
	NormalizedExclude []string `toml:"normalized_exclude"`
}

// PipelineConfig holds background loop parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	ExpiryInterval       duration `toml:"expiry_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit bounds requests per client IP per minute; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			Confirmations:  12,
			BatchSize:      10,
			ScrapeInterval: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "nftindexer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftindexer-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Attribution: AttributionConfig{
			CacheTTL: duration{time.Minute},
			KindDefaults: map[string]string{
				"seaport":     "opensea.io",
				"looks-rare":  "looksrare.org",
				"foundation":  "foundation.app",
				"cryptopunks": "cryptopunks.app",
				"zora-v3":     "zora.co",
				"midaswap":    "midaswap.org",
				"caviar-v1":   "caviar.sh",
			},
		},
		Floor: FloorConfig{
			// AMM pool quotes carry no royalty data, so they never qualify
			// for the normalized floor.
			NormalizedExclude: []string{"midaswap", "caviar-v1"},
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			ExpiryInterval:       duration{time.Minute},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"indexer": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: indexer, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain — required whenever the pipeline runs.
	runsPipeline := c.Mode != "server" && c.Pipeline.Enabled
	if runsPipeline {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.BatchSize < 1 {
			errs = append(errs, "chain: batch_size must be >= 1")
		}
		if c.Chain.ScrapeInterval.Duration <= 0 {
			errs = append(errs, "chain: scrape_interval must be positive")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when the archiver runs.
	if runsPipeline && c.Pipeline.ArchiveRetentionDays > 0 {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Pricing — fills cannot be recorded without native prices.
	if runsPipeline && c.Pricing.OracleURL == "" {
		errs = append(errs, "pricing: oracle_url must not be empty")
	}

	// Pipeline
	if runsPipeline {
		if c.Pipeline.ExpiryInterval.Duration <= 0 {
			errs = append(errs, "pipeline: expiry_interval must be positive")
		}
		if c.Pipeline.ArchiveRetentionDays < 0 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
