package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"avitoscan/internal/api"
	"avitoscan/internal/config"
	"avitoscan/internal/extractor"
	"avitoscan/internal/fetcher"
	"avitoscan/internal/monitoring"
	"avitoscan/internal/scanner"
	"avitoscan/internal/scheduler"
	"avitoscan/internal/storage"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	pgStore, err := storage.NewPostgresStore(context.Background(), cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()

	var redisStore *storage.RedisStore
	var noDataCache scanner.NoDataCache
	if cfg.RedisAddr != "" {
		redisStore = storage.NewRedisStore(cfg.RedisAddr)
		noDataCache = redisStore
	}

	// Initialize Page Transport
	fetchTimeout := time.Duration(cfg.FetchTimeout) * time.Second
	var pageFetcher fetcher.Fetcher
	var browser *fetcher.Browser
	if cfg.Fetcher == "http" {
		pageFetcher = fetcher.NewClient(cfg.UserAgent, fetchTimeout)
	} else {
		browser = fetcher.NewBrowser(cfg.UserAgent, fetchTimeout)
		pageFetcher = browser
	}

	// Initialize Core Scanner
	metrics := monitoring.NewMetrics()
	urls := fetcher.NewURLs(cfg.BaseURL, cfg.City)
	extract := extractor.New(cfg.BaseURL, logger)
	coreScanner := scanner.New(scanner.Options{
		Categories:           config.SearchCategories,
		CategoryOrder:        config.CategoryOrder,
		RentalCategories:     config.RentalCategories,
		SearchDelay:          cfg.SearchDelay(),
		HouseDelay:           cfg.HouseDelay(),
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		NoDataTTL:            cfg.NoDataTTL(),
	}, urls, pageFetcher, extract, pgStore, noDataCache, metrics, logger)

	// Optional scheduled scans
	var sched *scheduler.Scheduler
	if cfg.ScanCron != "" {
		sched = scheduler.New(coreScanner, logger)
		if err := sched.Start(cfg.ScanCron); err != nil {
			logger.Fatal("could not start scheduler", zap.Error(err))
		}
	}

	// Initialize API Server
	server := api.NewServer(cfg, coreScanner, pgStore, redisStore, metrics, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coreScanner.State().RequestStop()
	if sched != nil {
		sched.Stop()
	}
	if browser != nil {
		browser.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
