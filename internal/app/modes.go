package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/decoder"
	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/emitter"
	"github.com/alanyoungcy/nftindexer/internal/fetch"
	"github.com/alanyoungcy/nftindexer/internal/floor"
	"github.com/alanyoungcy/nftindexer/internal/pipeline"
	"github.com/alanyoungcy/nftindexer/internal/platform/mintoracle"
	"github.com/alanyoungcy/nftindexer/internal/platform/rates"
	"github.com/alanyoungcy/nftindexer/internal/pricing"
	"github.com/alanyoungcy/nftindexer/internal/reconciler"
	"github.com/alanyoungcy/nftindexer/internal/registry"
	"github.com/alanyoungcy/nftindexer/internal/server"
	"github.com/alanyoungcy/nftindexer/internal/server/handler"
	"github.com/alanyoungcy/nftindexer/internal/server/ws"
)

// core holds the domain services shared by the pipeline and the API server:
// the decode registry, the reconciler, and the floor updater.
type core struct {
	registry   *decoder.Registry
	reconciler *reconciler.Reconciler
	floors     *floor.Updater
	emitter    domain.Emitter
}

// buildCore assembles the attribution, pricing, decoding, and reconciliation
// services on top of the wired infrastructure.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	// Attribution registries with kind-level fallbacks from config.
	kindDefaults := make(map[domain.OrderKind]string, len(a.cfg.Attribution.KindDefaults))
	for kind, dom := range a.cfg.Attribution.KindDefaults {
		kindDefaults[domain.OrderKind(kind)] = dom
	}
	sources := registry.NewSources(deps.SourceStore, a.cfg.Attribution.CacheTTL.Duration, kindDefaults, a.logger)
	routers := registry.NewRouters(deps.SourceStore, a.cfg.Attribution.CacheTTL.Duration)

	// Server-only processes carry no chain client; nothing in that mode
	// decodes logs, so transaction lookups stay unwired.
	var txs domain.TxReader
	if deps.Chain != nil {
		txs = fetch.NewTransactions(deps.TxCacheStore, deps.Chain, a.logger)
	}
	resolver := attribution.NewResolver(sources, routers, deps.OrderStore, txs, a.logger)

	rateSource := rates.NewClient(a.cfg.Pricing.OracleURL, a.cfg.Pricing.OracleAPIKey)
	prices := pricing.NewNormalizer(rateSource, deps.PriceCache, a.logger)

	var mintSim domain.MintOracle
	if a.cfg.MintOracle.URL != "" {
		mintSim = mintoracle.NewClient(a.cfg.MintOracle.URL, a.cfg.MintOracle.APIKey)
	}
	blacklist := make(map[string]bool, len(a.cfg.MintOracle.Blacklist))
	for _, addr := range a.cfg.MintOracle.Blacklist {
		blacklist[strings.ToLower(addr)] = true
	}

	dd := decoder.Deps{
		Prices:        prices,
		Attribution:   resolver,
		Txs:           txs,
		MintOracle:    mintSim,
		MintBlacklist: blacklist,
		Logger:        a.logger,
	}

	// Merge priority: marketplace protocols first, raw token transfers last so
	// sale-matched transfers are already claimed.
	reg, err := decoder.NewRegistry(a.logger,
		decoder.NewSeaport(dd),
		decoder.NewLooksRare(dd),
		decoder.NewFoundation(dd),
		decoder.NewCryptopunks(dd),
		decoder.NewZora(dd),
		decoder.NewMidaswap(dd),
		decoder.NewCaviar(dd),
		decoder.NewTokenTransfers(dd),
	)
	if err != nil {
		return nil, fmt.Errorf("app: decoder registry: %w", err)
	}

	em := emitter.New(deps.SignalBus)

	normalizedExclude := make([]domain.OrderKind, 0, len(a.cfg.Floor.NormalizedExclude))
	for _, kind := range a.cfg.Floor.NormalizedExclude {
		normalizedExclude = append(normalizedExclude, domain.OrderKind(kind))
	}
	floors := floor.NewUpdater(deps.OrderStore, deps.TokenStore, em, normalizedExclude, a.logger)

	rec := reconciler.New(deps.OrderStore, deps.EventStore, deps.ActivityStore, floors, em, a.logger)

	return &core{
		registry:   reg,
		reconciler: rec,
		floors:     floors,
		emitter:    em,
	}, nil
}

// buildPipeline assembles the background pipeline from the shared core.
func (a *App) buildPipeline(deps *Dependencies, c *core) *pipeline.Orchestrator {
	scraper := pipeline.NewBlockScraper(
		deps.Chain,
		c.registry,
		c.reconciler,
		deps.BlockCursor,
		a.cfg.Chain.BatchSize,
		a.cfg.Chain.Confirmations,
		a.logger,
	)

	expiry := pipeline.NewExpirySweeper(c.reconciler, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.EventStore, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
	}

	return pipeline.NewOrchestrator(
		scraper,
		expiry,
		archiver,
		a.cfg.Chain.ScrapeInterval.Duration,
		a.cfg.Pipeline.ExpiryInterval.Duration,
		a.cfg.Pipeline.ArchiveCron,
		a.logger,
	)
}

// buildServer assembles the HTTP/WebSocket API from the shared core.
func (a *App) buildServer(deps *Dependencies, c *core) (*server.Server, *ws.Hub) {
	hub := ws.NewHub(deps.SignalBus, a.logger)

	checks := map[string]handler.Check{
		"postgres": func(ctx context.Context) error {
			return deps.Postgres.Pool().Ping(ctx)
		},
		"redis": deps.Redis.Ping,
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Orders:  handler.NewOrderHandler(deps.OrderStore, c.reconciler, a.logger),
		Sources: handler.NewSourceHandler(deps.SourceStore, a.logger),
		Floors:  handler.NewFloorHandler(deps.TokenStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	return srv, hub
}

// IndexerMode runs the scraping pipeline without the API server.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")

	if !a.cfg.Pipeline.Enabled {
		return fmt.Errorf("app: indexer mode requires pipeline.enabled")
	}

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	return a.buildPipeline(deps, c).Run(ctx)
}

// ServerMode runs the API server and websocket hub without the pipeline.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	srv, hub := a.buildServer(deps, c)
	return a.runServer(ctx, srv, hub)
}

// FullMode runs the pipeline and the API server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Pipeline.Enabled {
		orch := a.buildPipeline(deps, c)
		g.Go(func() error {
			err := orch.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	if a.cfg.Server.Enabled {
		srv, hub := a.buildServer(deps, c)
		g.Go(func() error {
			return a.runServer(ctx, srv, hub)
		})
	}

	return g.Wait()
}

// runServer starts the hub and HTTP server and shuts both down when ctx is
// cancelled.
func (a *App) runServer(ctx context.Context, srv *server.Server, hub *ws.Hub) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
