package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NFTIDX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NFTIDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NFTIDX_CHAIN_RPC_URL")
	setUint64(&cfg.Chain.Confirmations, "NFTIDX_CHAIN_CONFIRMATIONS")
	setUint64(&cfg.Chain.BatchSize, "NFTIDX_CHAIN_BATCH_SIZE")
	setDuration(&cfg.Chain.ScrapeInterval, "NFTIDX_CHAIN_SCRAPE_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NFTIDX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NFTIDX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTIDX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTIDX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTIDX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTIDX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTIDX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTIDX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTIDX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTIDX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTIDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTIDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTIDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTIDX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTIDX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTIDX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NFTIDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTIDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTIDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NFTIDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTIDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTIDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTIDX_S3_FORCE_PATH_STYLE")

	// ── Pricing ──
	setStr(&cfg.Pricing.OracleURL, "NFTIDX_PRICING_ORACLE_URL")
	setStr(&cfg.Pricing.OracleAPIKey, "NFTIDX_PRICING_ORACLE_API_KEY")

	// ── Mint oracle ──
	setStr(&cfg.MintOracle.URL, "NFTIDX_MINT_ORACLE_URL")
	setStr(&cfg.MintOracle.APIKey, "NFTIDX_MINT_ORACLE_API_KEY")
	setStringSlice(&cfg.MintOracle.Blacklist, "NFTIDX_MINT_ORACLE_BLACKLIST")

	// ── Attribution ──
	setDuration(&cfg.Attribution.CacheTTL, "NFTIDX_ATTRIBUTION_CACHE_TTL")

	// ── Floor ──
	setStringSlice(&cfg.Floor.NormalizedExclude, "NFTIDX_FLOOR_NORMALIZED_EXCLUDE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "NFTIDX_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ExpiryInterval, "NFTIDX_PIPELINE_EXPIRY_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "NFTIDX_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "NFTIDX_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTIDX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTIDX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTIDX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NFTIDX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "NFTIDX_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "NFTIDX_MODE")
	setStr(&cfg.LogLevel, "NFTIDX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
