package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/curatelab/curator/api"
	"github.com/curatelab/curator/config"
	"github.com/curatelab/curator/metrics"
	"github.com/curatelab/curator/tracing"
)

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("curator api initializing", "version", "1.0.0")

	// Initialize tracing
	shutdownTracer, err := tracing.InitTracer(context.Background(), tracing.ConfigFromEnv("curator-api"))
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	cfg := config.Load()

	// Command-line flags (override file and environment)
	port := flag.String("port", cfg.Server.Port, "Server port")
	storagePath := flag.String("storage-path", cfg.Storage.BasePath, "Base directory for the filesystem archive")
	analyzeRate := flag.Float64("analyze-rate", cfg.RateLimit.AnalyzePerSecond, "Analyze requests per second per owner")
	maxConcurrent := flag.Int("max-concurrent", cfg.Analyzer.MaxConcurrent, "Maximum concurrent model calls")
	disableCORS := flag.Bool("disable-cors", cfg.Server.DisableCORS, "Disable CORS")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Storage.BasePath = *storagePath
	cfg.RateLimit.AnalyzePerSecond = *analyzeRate
	cfg.Analyzer.MaxConcurrent = *maxConcurrent
	cfg.Server.DisableCORS = *disableCORS

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	candidateNames := make([]string, len(cfg.Analyzer.Candidates))
	for i, c := range cfg.Analyzer.Candidates {
		candidateNames[i] = c.Provider + ":" + c.Model
	}
	logger.Info("using PostgreSQL database", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Name)

	server, err := api.NewServer(context.Background(), cfg.APIConfig())
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := metrics.RegisterDBStats(server.DB().DB(), "curator"); err != nil {
		logger.Warn("failed to register database metrics", "error", err)
	} else {
		logger.Info("database metrics initialized")
	}

	// Start server in a goroutine
	go func() {
		logger.Info("curator api starting",
			"port", cfg.Server.Port,
			"storage_backend", cfg.Storage.Backend,
			"storage_path", cfg.Storage.BasePath,
			"candidates", candidateNames,
			"max_concurrent", cfg.Analyzer.MaxConcurrent,
			"analyze_rate", cfg.RateLimit.AnalyzePerSecond,
			"cors_enabled", !cfg.Server.DisableCORS,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
