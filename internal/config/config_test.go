package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns Defaults() with the operator-supplied fields filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.Pricing.OracleURL = "https://rates.example.com"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "wat"
	cfg.Redis.Addr = ""
	cfg.Postgres.PoolMinConns = 20 // exceeds max of 10

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "redis: addr", "pool_min_conns"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateRequiresOracleForPipeline(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("full mode without a price oracle should be invalid")
	}

	// Server-only deployments never decode fills, so the oracle is optional.
	cfg.Mode = "server"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("server mode should not require the oracle: %v", err)
	}
}

func TestValidateChainChecksSkippedWhenPipelineDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Pipeline.Enabled = false
	cfg.Chain.RPCURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled pipeline should skip chain checks: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NFTIDX_CHAIN_RPC_URL", "wss://rpc.example.com")
	t.Setenv("NFTIDX_CHAIN_CONFIRMATIONS", "25")
	t.Setenv("NFTIDX_CHAIN_SCRAPE_INTERVAL", "45s")
	t.Setenv("NFTIDX_POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("NFTIDX_MINT_ORACLE_BLACKLIST", "0xAA, 0xBB ,")
	t.Setenv("NFTIDX_MODE", "indexer")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Chain.RPCURL != "wss://rpc.example.com" {
		t.Fatalf("rpc url = %s", cfg.Chain.RPCURL)
	}
	if cfg.Chain.Confirmations != 25 {
		t.Fatalf("confirmations = %d", cfg.Chain.Confirmations)
	}
	if cfg.Chain.ScrapeInterval.Duration != 45*time.Second {
		t.Fatalf("scrape interval = %s", cfg.Chain.ScrapeInterval.Duration)
	}
	if cfg.Postgres.RunMigrations {
		t.Fatalf("run_migrations override ignored")
	}
	if len(cfg.MintOracle.Blacklist) != 2 || cfg.MintOracle.Blacklist[1] != "0xBB" {
		t.Fatalf("blacklist = %v", cfg.MintOracle.Blacklist)
	}
	if cfg.Mode != "indexer" {
		t.Fatalf("mode = %s", cfg.Mode)
	}
}

func TestEnvOverridesIgnoreUnset(t *testing.T) {
	cfg := Defaults()
	before := cfg.Chain.Confirmations
	applyEnvOverrides(&cfg)
	if cfg.Chain.Confirmations != before {
		t.Fatalf("unset env vars must not change defaults")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("5m")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 5*time.Minute {
		t.Fatalf("duration = %s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("nope")); err == nil {
		t.Fatalf("bad duration should be rejected")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Pricing.OracleAPIKey = "hunter2"
	cfg.Server.APIKey = "hunter2"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Redis.Password != "***" ||
		red.S3.SecretKey != "***" || red.Pricing.OracleAPIKey != "***" ||
		red.Server.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatalf("original config mutated")
	}

	// Empty secrets stay empty rather than advertising a redaction.
	if red.MintOracle.APIKey != "" {
		t.Fatalf("empty secret should stay empty")
	}
}
