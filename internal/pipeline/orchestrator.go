package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator manages all pipeline goroutines: block scraping, order expiry
// sweeps, and cold-storage archival.
type Orchestrator struct {
	scraper        *BlockScraper
	expiry         *ExpirySweeper
	archiver       *Archiver
	scrapeInterval time.Duration
	expiryInterval time.Duration
	archiveCron    string
	logger         *slog.Logger
}

// NewOrchestrator creates a new Orchestrator that coordinates all pipeline
// sub-systems.
func NewOrchestrator(
	scraper *BlockScraper,
	expiry *ExpirySweeper,
	archiver *Archiver,
	scrapeInterval, expiryInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		scraper:        scraper,
		expiry:         expiry,
		archiver:       archiver,
		scrapeInterval: scrapeInterval,
		expiryInterval: expiryInterval,
		archiveCron:    archiveCron,
		logger:         logger,
	}
}

// Run starts all sub-pipelines as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("scrape_interval", o.scrapeInterval),
		slog.Duration("expiry_interval", o.expiryInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting block scraper loop")
		err := o.scraper.RunLoop(ctx, o.scrapeInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("block scraper: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting expiry sweeper")
		err := o.expiry.RunLoop(ctx, o.expiryInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("expiry sweeper: %w", err)
	})

	// The archiver is absent when blob storage is not configured.
	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
