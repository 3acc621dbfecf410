package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/curatelab/curator/agent"
	"github.com/curatelab/curator/client"
	"github.com/curatelab/curator/extractor"
	"github.com/curatelab/curator/tracing"
	"github.com/curatelab/curator/tracker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent and its control server",
	Long: `Start the curation session and serve the loopback control surface.

Examples:
  curator-agent run
  curator-agent run --threshold 0.7 --store redis --instance laptop`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Float64("threshold", 0, "quality threshold, 0-100 or 0-1")
	runCmd.Flags().String("store", "", "confirmed url store: memory, file or redis")
	runCmd.Flags().String("store-path", "", "file store location")
	runCmd.Flags().String("redis-addr", "", "redis address for the redis store")
	runCmd.Flags().String("instance", "", "agent instance name for the redis store")
	runCmd.Flags().Bool("no-auto-submit", false, "score pages without submitting them")
}

func runAgent(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := cfg.validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.ConfigFromEnv("curator-agent"))
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tr, err := tracker.New(ctx, store)
	if err != nil {
		return fmt.Errorf("loading tracker: %w", err)
	}

	backend := client.New(cfg.Backend.URL, cfg.Backend.Token, nil)
	if !backend.Connected() {
		logger.Warn("no valid backend token, pages will not be analyzed until one is configured")
	}

	sessionCfg := agent.Config{
		UpdateDebounce:    cfg.Debounce.Update,
		ActivateDebounce:  cfg.Debounce.Activate,
		MaxVisualItems:    cfg.Visual.MaxItems,
		VisualConcurrency: cfg.Visual.Concurrency,
		AutoSubmit:        cfg.AutoSubmit,
		Extract:           extractor.DefaultOptions(),
	}
	session := agent.NewSession(sessionCfg, agent.NewHTTPSource(cfg.FetchTimeout), backend, tr)
	defer session.Close()
	if _, err := session.SetThreshold(ctx, cfg.Threshold); err != nil {
		logger.Warn("threshold not applied", "threshold", cfg.Threshold, "error", err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	if err := session.Start(startCtx); err != nil {
		logger.Warn("startup sync incomplete", "error", err)
	}
	cancelStart()

	control := agent.NewControlServer(cfg.Listen, session)
	errCh := make(chan error, 1)
	go func() {
		errCh <- control.Start()
	}()

	logger.Info("curator agent started",
		"version", version,
		"listen", cfg.Listen,
		"backend", cfg.Backend.URL,
		"threshold", session.Threshold(),
		"store", cfg.Store.Type,
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := control.Shutdown(shutdownCtx); err != nil {
		logger.Error("control server forced to shutdown", "error", err)
	}
	logger.Info("agent exited")
	return nil
}

// applyRunFlags overlays explicitly set run flags on the loaded config
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.Threshold, _ = flags.GetFloat64("threshold")
	}
	if flags.Changed("store") {
		cfg.Store.Type, _ = flags.GetString("store")
	}
	if flags.Changed("store-path") {
		cfg.Store.Path, _ = flags.GetString("store-path")
	}
	if flags.Changed("redis-addr") {
		cfg.Store.RedisAddr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("instance") {
		cfg.Store.Instance, _ = flags.GetString("instance")
	}
	if flags.Changed("no-auto-submit") {
		noAuto, _ := flags.GetBool("no-auto-submit")
		cfg.AutoSubmit = !noAuto
	}
}

// openStore builds the configured confirmed-URL store and its cleanup func
func openStore(ctx context.Context) (tracker.ConfirmedStore, func(), error) {
	switch cfg.Store.Type {
	case storeMemory:
		return tracker.NewMemoryStore(), func() {}, nil

	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		store := tracker.NewRedisStore(rdb, cfg.Store.Instance)
		logger.Info("using redis store", "addr", cfg.Store.RedisAddr, "key", store.Key())
		return store, func() { rdb.Close() }, nil

	default:
		logger.Info("using file store", "path", cfg.Store.Path)
		return tracker.NewFileStore(cfg.Store.Path), func() {}, nil
	}
}
