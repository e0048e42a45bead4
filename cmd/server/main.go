// Package main is the entry point for the CRI tracker service. It
// computes the liquid-asset value per share (cash, receivables and
// inventories over shares outstanding) for companies and funds as of
// an arbitrary historical date, sourcing regulatory filings and market
// prices from external providers with persistent caching.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zakatools/cri-tracker/internal/clientdata"
	"github.com/zakatools/cri-tracker/internal/clients/alphavantage"
	"github.com/zakatools/cri-tracker/internal/clients/edgar"
	"github.com/zakatools/cri-tracker/internal/clients/polygon"
	"github.com/zakatools/cri-tracker/internal/config"
	"github.com/zakatools/cri-tracker/internal/database"
	"github.com/zakatools/cri-tracker/internal/modules/holdings"
	"github.com/zakatools/cri-tracker/internal/modules/prices"
	"github.com/zakatools/cri-tracker/internal/modules/universe"
	"github.com/zakatools/cri-tracker/internal/modules/valuation"
	"github.com/zakatools/cri-tracker/internal/scheduler"
	"github.com/zakatools/cri-tracker/internal/server"
	"github.com/zakatools/cri-tracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting CRI tracker")

	// Persistent client-data cache. Ephemeral by nature, so the cache
	// profile trades durability for speed.
	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "client_data.db"),
		Profile: database.ProfileCache,
		Name:    "client_data",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open client data database")
	}
	defer cacheDB.Close()

	cacheRepo := clientdata.NewRepository(cacheDB.Conn())
	if err := cacheRepo.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize client data schema")
	}

	// External data clients.
	edgarClient, err := edgar.NewClient(cfg.SECUserAgent, cacheRepo, edgar.Options{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create EDGAR client")
	}

	avClient, err := alphavantage.NewClient(cfg.AlphaVantageKey, alphavantage.Options{
		BaseURL:        cfg.AlphaVantageURL,
		CallsPerMinute: cfg.AVCallsPerMinute,
		MaxRetries:     cfg.AVMaxRetries,
		RetryDelay:     cfg.AVRetryDelay,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Alpha Vantage client")
	}

	polygonClient, err := polygon.NewClient(cfg.PolygonKey, polygon.Options{
		BaseURL: cfg.PolygonURL,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Polygon client")
	}

	// Domain services.
	nameResolver := universe.NewResolver(edgarClient, log)
	holdingsService := holdings.NewService(edgarClient, nameResolver, log)
	priceResolver := prices.NewResolver(avClient, polygonClient, cfg.PrimaryLookback, cfg.FallbackLookback, log)
	priceResolver.SetCache(cacheRepo)

	thresholds := valuation.Thresholds{
		ShareStaleDays:    cfg.Thresholds.ShareStaleDays,
		OutlierRatioMin:   cfg.Thresholds.OutlierRatioMin,
		OutlierWeightMax:  cfg.Thresholds.OutlierWeightMax,
		CoverageWarnBelow: cfg.Thresholds.CoverageWarnBelow,
		MaxConcurrent:     cfg.Thresholds.MaxConcurrent,
	}

	engine := valuation.NewEngine(edgarClient, polygonClient, priceResolver, thresholds, log)
	valuationService := valuation.NewService(engine, holdingsService, edgarClient, priceResolver, thresholds, log)
	valuationService.RegisterClearer(edgarClient)
	valuationService.RegisterClearer(nameResolver)
	valuationService.RegisterPurger(cacheRepo)

	// Background maintenance.
	sched := scheduler.New(log)
	cleanupJob := clientdata.NewCleanupJob(cacheRepo, log)
	if err := sched.AddJob("@daily", cleanupJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Valuation: valuationService,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	sched.Stop()

	log.Info().Msg("Shutdown complete")
}
