package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/config"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/metrics"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/aggregator"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/api"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/cache"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/version"

	// Import sources and quoters to register them
	_ "github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources/dex"
	_ "github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources/feed"
	_ "github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources/market"
	_ "github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources/onchain"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("chainhopper version %s\n", version.Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting chainhopper", "version", version.Version)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Select cache backend
	priceCache, err := buildCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", "backend", cfg.Cache.Backend, "error", err)
	}

	// Build sources and quoters from configuration
	allSources, allQuoters := buildProviders(cfg, logger)
	if len(allSources) == 0 && len(allQuoters) == 0 {
		logger.Fatal("No sources or quoters could be created")
	}

	policy := aggregator.Policy{
		MinConfidence: cfg.Policy.MinConfidence,
		MaxAge:        cfg.Policy.MaxPriceAge.ToDuration(),
		CacheTTL:      cfg.Policy.CacheTTL.ToDuration(),
		QuoteCacheTTL: cfg.Policy.QuoteCacheTTL.ToDuration(),
	}
	agg := aggregator.New(allSources, allQuoters, priceCache, policy, logger)

	// Start streaming sources in the background so a slow or unreachable
	// stream endpoint never delays the HTTP server or signal handling.
	for _, s := range allSources {
		if streamer, ok := s.(sources.Streamer); ok {
			go func(name string, streamer sources.Streamer) {
				if err := streamer.StartStream(ctx); err != nil {
					logger.Warn("Failed to start stream", "source", name, "error", err)
				}
			}(s.Name(), streamer)
		}
	}

	errChan := make(chan error, 1)
	var httpServer *api.Server
	if cfg.HTTP.Enabled {
		httpServer = api.NewServer(cfg.HTTP.Addr, agg, logger)
		go func() {
			errChan <- httpServer.Start()
		}()
	}

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed", "error", err)
		}
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}
	for _, s := range allSources {
		if streamer, ok := s.(sources.Streamer); ok {
			if err := streamer.StopStream(); err != nil {
				logger.Warn("Failed to stop stream", "source", s.Name(), "error", err)
			}
		}
	}
	if closer, ok := priceCache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close cache", "error", err)
		}
	}
	logger.Info("Shutdown complete")
}

func buildCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		logger.Info("Using Redis cache", "addr", cfg.Cache.Redis.Addr)
		return cache.NewRedis(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
	default:
		mem := cache.NewMemory()
		if interval := cfg.Cache.SweepInterval.ToDuration(); interval > 0 {
			mem.StartSweep(ctx, interval)
		}
		return mem, nil
	}
}

func buildProviders(cfg *config.Config, logger *logging.Logger) ([]sources.Source, []sources.Quoter) {
	var allSources []sources.Source
	for _, sourceCfg := range cfg.Sources {
		if !sourceCfg.Enabled {
			continue
		}

		logger.Info("Initializing source", "type", sourceCfg.Type, "name", sourceCfg.Name, "priority", sourceCfg.Priority)

		// Inject logger and priority so sources don't carry their own wiring
		if sourceCfg.Config == nil {
			sourceCfg.Config = make(map[string]interface{})
		}
		sourceCfg.Config["logger"] = logger
		sourceCfg.Config["priority"] = sourceCfg.Priority

		source, err := sources.Create(sourceCfg.Type, sourceCfg.Name, sourceCfg.Config)
		if err != nil {
			logger.Warn("Failed to create source", "type", sourceCfg.Type, "name", sourceCfg.Name, "error", err)
			continue
		}
		allSources = append(allSources, source)
	}

	var allQuoters []sources.Quoter
	for _, quoterCfg := range cfg.Quoters {
		if !quoterCfg.Enabled {
			continue
		}

		logger.Info("Initializing quoter", "type", quoterCfg.Type, "name", quoterCfg.Name, "priority", quoterCfg.Priority)

		if quoterCfg.Config == nil {
			quoterCfg.Config = make(map[string]interface{})
		}
		quoterCfg.Config["logger"] = logger
		quoterCfg.Config["priority"] = quoterCfg.Priority

		quoter, err := sources.CreateQuoter(quoterCfg.Type, quoterCfg.Name, quoterCfg.Config)
		if err != nil {
			logger.Warn("Failed to create quoter", "type", quoterCfg.Type, "name", quoterCfg.Name, "error", err)
			continue
		}
		allQuoters = append(allQuoters, quoter)
	}

	return allSources, allQuoters
}
