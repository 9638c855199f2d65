// Covey orchestrator server: registers hierarchical team definitions,
// runs executions against the Redis-backed state store, and streams
// progress over SSE.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/covey-team/covey/pkg/agent"
	"github.com/covey-team/covey/pkg/api"
	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/config"
	"github.com/covey-team/covey/pkg/engine"
	"github.com/covey-team/covey/pkg/keys"
	"github.com/covey-team/covey/pkg/store"
	"github.com/covey-team/covey/pkg/team"
	"github.com/covey-team/covey/pkg/tools"
)

const sessionCleanupInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", os.Getenv("COVEY_CONFIG"), "Path to YAML configuration file")
	envPath := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.NewLogger())

	slog.Info("Starting covey",
		"addr", cfg.Server.Addr(),
		"redis", cfg.Redis.Addr,
		"config", *configPath)

	ctx := context.Background()

	// 1. State store
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st, err := store.NewRedisStore(store.Options{
		Client:      client,
		Prefix:      cfg.Redis.Prefix,
		TTL:         cfg.Redis.TTL,
		LockTTL:     cfg.Redis.LockTTL,
		LockRetries: cfg.Redis.LockRetries,
		LockBackoff: cfg.Redis.LockBackoff,
	})
	if err != nil {
		slog.Error("Failed to initialize state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing state store", "error", err)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		slog.Error("Redis unreachable", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	pingCancel()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 2. Event bus with its buffer janitor
	eventBus := bus.New(cfg.Bus)
	eventBus.Start(ctx)

	// 3. Agent backends. LLM inference rides behind the Runner/Router
	// interfaces; the server ships with the deterministic simulator.
	var runner agent.Runner = &agent.StubRunner{Delay: 100 * time.Millisecond}
	var router agent.Router = &agent.StubRouter{}

	// 4. Execution engine + periodic session registry cleanup
	eng := engine.New(cfg.Engine, st, eventBus, runner, router)
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eng.CleanupCompleted()
			case <-cleanupDone:
				return
			}
		}
	}()

	// 5. Team builder
	builder := team.NewBuilder(keys.NewEnvProvider(), tools.NewRegistry())

	// 6. HTTP server
	server := api.NewServer(api.Options{AllowedOrigins: cfg.Server.AllowedOrigins}, st, eventBus, eng, builder)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, cancel sessions,
	// then tear down the bus.
	close(cleanupDone)

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := eng.Shutdown(ctx); err != nil {
		slog.Warn("Engine shutdown incomplete", "error", err)
	} else {
		slog.Info("Engine stopped gracefully")
	}

	eventBus.Stop()
	slog.Info("Shutdown complete")
}
