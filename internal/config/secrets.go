package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// External oracles
	out.Pricing = cfg.Pricing
	redact(&out.Pricing.OracleAPIKey)
	out.MintOracle = cfg.MintOracle
	redact(&out.MintOracle.APIKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.MintOracle.Blacklist != nil {
		out.MintOracle.Blacklist = make([]string, len(cfg.MintOracle.Blacklist))
		copy(out.MintOracle.Blacklist, cfg.MintOracle.Blacklist)
	}
	if cfg.Floor.NormalizedExclude != nil {
		out.Floor.NormalizedExclude = make([]string, len(cfg.Floor.NormalizedExclude))
		copy(out.Floor.NormalizedExclude, cfg.Floor.NormalizedExclude)
	}
	if cfg.Attribution.KindDefaults != nil {
		out.Attribution.KindDefaults = make(map[string]string, len(cfg.Attribution.KindDefaults))
		for k, v := range cfg.Attribution.KindDefaults {
			out.Attribution.KindDefaults[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
