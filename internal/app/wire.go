package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/nftindexer/internal/blob/s3"
	"github.com/alanyoungcy/nftindexer/internal/cache/redis"
	"github.com/alanyoungcy/nftindexer/internal/config"
	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/platform/evm"
	"github.com/alanyoungcy/nftindexer/internal/store/postgres"
)

// Dependencies bundles every infrastructure-level dependency the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function. Domain services (decoders, reconciler, floor
// updater) are built per-mode on top of these.
type Dependencies struct {
	// Stores
	OrderStore    domain.OrderStore
	EventStore    *postgres.EventStore
	TokenStore    domain.TokenStore
	SourceStore   domain.SourceStore
	TxCacheStore  domain.TxCacheStore
	ActivityStore domain.ActivityStore

	// Caches
	PriceCache  domain.CurrencyPriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	BlockCursor *redis.BlockCursor

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Chain access
	Chain *evm.Client

	// Raw clients, kept for health checks.
	Postgres *postgres.Client
	Redis    *redis.Client
}

// runsPipeline returns true for modes that run the indexing pipeline.
func runsPipeline(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) != "server" && cfg.Pipeline.Enabled
}

// needsS3 returns true when the cold-storage archiver will run.
func needsS3(cfg *config.Config) bool {
	return runsPipeline(cfg) && cfg.Pipeline.ArchiveRetentionDays > 0
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode reads or writes order state) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)
	deps.SourceStore = postgres.NewSourceStore(pool)
	deps.TxCacheStore = postgres.NewTxCacheStore(pool)
	deps.ActivityStore = postgres.NewActivityStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PriceCache = redis.NewCurrencyPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.BlockCursor = redis.NewBlockCursor(redisClient)

	// --- Chain RPC (only when the pipeline runs) ---
	if runsPipeline(cfg) {
		chain, err := evm.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain rpc: %w", err)
		}
		closers = append(closers, chain.Close)
		deps.Chain = chain
	}

	// --- S3 blob storage (only when the archiver runs) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EventStore, deps.EventStore)
	}

	slog.Default().InfoContext(ctx, "dependencies wired",
		slog.Bool("pipeline", runsPipeline(cfg)),
		slog.Bool("s3", needsS3(cfg)),
	)

	return deps, cleanup, nil
}
